package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l4planner"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
	"github.com/banshee-data/navstack/internal/nav/monitor"
	"github.com/banshee-data/navstack/internal/timeutil"
)

type planFlags struct {
	mapPath    string
	resolution float64
	from       string
	to         string
	out        string
	seed       uint64
	attempts   int
	asJSON     bool
}

// planReport is the --json output of the plan command.
type planReport struct {
	Start      l1geometry.Point `json:"start"`
	Goal       l1geometry.Point `json:"goal"`
	Path       l1geometry.Path  `json:"path"`
	Length     float64          `json:"length"`
	Iterations int              `json:"iterations"`
	Attempts   int              `json:"attempts"`
	Image      string           `json:"image,omitempty"`
}

func newPlanCmd(opts *globalOptions) *cobra.Command {
	f := &planFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan one path on a map and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return planOnce(cmd.Context(), opts, f, cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.mapPath, "map", "", "base map (.yaml metadata or .pgm); blank 20m site when empty")
	fl.Float64Var(&f.resolution, "resolution", blankResolution, "meters per cell for bare .pgm maps")
	fl.StringVar(&f.from, "from", "", "start x,y")
	fl.StringVar(&f.to, "to", "", "goal x,y")
	fl.StringVar(&f.out, "out", "", "write a PNG of the grid, tree and path here")
	fl.Uint64Var(&f.seed, "seed", 0, "planner seed (0 keeps the configured seed)")
	fl.IntVar(&f.attempts, "attempts", 10, "give up after this many planner attempts (0 keeps the configured cap)")
	fl.BoolVar(&f.asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func planOnce(ctx context.Context, opts *globalOptions, f *planFlags, out io.Writer) error {
	start, err := parsePoint(f.from)
	if err != nil {
		return err
	}
	goal, err := parsePoint(f.to)
	if err != nil {
		return err
	}
	base, err := loadMap(f.mapPath, f.resolution)
	if err != nil {
		return err
	}
	world, err := buildWorld(opts.tuning, base)
	if err != nil {
		return err
	}

	pcfg := opts.tuning.ToPlanner()
	if f.seed != 0 {
		pcfg.Seed = f.seed
	}
	if f.attempts > 0 {
		pcfg.MaxAttempts = f.attempts
	}
	clock := timeutil.RealClock{}
	planner, err := l4planner.New(pcfg, clock)
	if err != nil {
		return err
	}

	snap := world.grid.Snapshot()
	began := clock.Now()
	res, planErr := planner.PlanWithRetry(ctx, snap, start, goal)
	ev := l6mission.PlanEvent{
		RunID:    uuid.NewString(),
		Start:    start,
		Goal:     goal,
		Result:   res,
		Snapshot: snap,
		Duration: clock.Since(began),
		Err:      planErr,
	}

	rep := planReport{
		Start:      start,
		Goal:       goal,
		Path:       res.Path,
		Length:     res.Path.Len(),
		Iterations: res.Iterations,
		Attempts:   res.Attempts,
	}
	if f.out != "" {
		png, err := monitor.RenderPlan(ev)
		if err != nil {
			return fmt.Errorf("failed to render plan: %w", err)
		}
		if err := os.WriteFile(f.out, png, 0o644); err != nil {
			return err
		}
		rep.Image = f.out
	}
	if planErr != nil {
		return planErr
	}

	if f.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(out, "path %v -> %v: %d points, %.2fm, %d iterations, %d attempts, %v\n",
		start, goal, len(rep.Path), rep.Length, rep.Iterations, rep.Attempts, ev.Duration.Round(time.Millisecond))
	for _, p := range rep.Path {
		fmt.Fprintf(out, "%.3f,%.3f\n", p.X, p.Y)
	}
	return nil
}
