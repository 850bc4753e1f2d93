package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/navstack/internal/mapio"
	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/actuate"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l4planner"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
	"github.com/banshee-data/navstack/internal/nav/monitor"
	"github.com/banshee-data/navstack/internal/nav/network"
	"github.com/banshee-data/navstack/internal/nav/sim"
	"github.com/banshee-data/navstack/internal/timeutil"
)

type runFlags struct {
	mapPath    string
	resolution float64
	waypoints  []string

	sim       bool
	truthPath string

	listen     string
	rcvBuf     int
	maxPoseAge time.Duration
	udpSink    string
	serialPort string
	baudRate   int

	httpAddr  string
	hold      bool
	outputDir string
	saveGrid  bool
	record    string
	timeout   time.Duration
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the mission",
		Long: `Drive the vehicle through every waypoint in order.

Waypoints come from --waypoint flags, or the tuning config when none are
given. With --sim the vehicle and its depth camera are simulated against
--truth (the base map when empty); otherwise poses and depth rows arrive
over UDP on --listen and commands go to --udp-sink and/or --serial.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runMission(ctx, opts, f, cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.mapPath, "map", "", "base map (.yaml metadata or .pgm); blank 20m site when empty")
	fl.Float64Var(&f.resolution, "resolution", blankResolution, "meters per cell for bare .pgm maps")
	fl.StringArrayVar(&f.waypoints, "waypoint", nil, "waypoint x,y or x,y,heading_deg (repeatable)")
	fl.BoolVar(&f.sim, "sim", false, "simulate the vehicle instead of using live sensors")
	fl.StringVar(&f.truthPath, "truth", "", "map of the obstacles the simulated camera sees")
	fl.StringVar(&f.listen, "listen", ":9870", "UDP address for pose and depth packets")
	fl.IntVar(&f.rcvBuf, "rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	fl.DurationVar(&f.maxPoseAge, "max-pose-age", 500*time.Millisecond, "poses older than this are treated as missing")
	fl.StringVar(&f.udpSink, "udp-sink", "", "send commands as CSV datagrams to host:port")
	fl.StringVar(&f.serialPort, "serial", "", "motor controller serial device")
	fl.IntVar(&f.baudRate, "baud", 115200, "motor controller baud rate")
	fl.StringVar(&f.httpAddr, "http", "", "serve /metrics and /debug/ pages on this address")
	fl.BoolVar(&f.hold, "hold", false, "keep serving --http after the mission ends, until interrupted")
	fl.StringVar(&f.outputDir, "output", "", "directory for per-plan PNGs and the command chart")
	fl.BoolVar(&f.saveGrid, "save-grid", false, "also write the working grid as PGM on every plan")
	fl.StringVar(&f.record, "record", "", "write every command, and the simulated track with --sim, to this JSON file")
	fl.DurationVar(&f.timeout, "timeout", 0, "abandon the mission after this long (0 = no limit)")
	return cmd
}

// observers bundles the monitor outputs for one run.
type observers struct {
	metrics *monitor.Metrics
	status  *monitor.Status
	plots   *monitor.PlotRenderer
	chart   *monitor.CommandChart
}

func newObservers(clock timeutil.Clock, f *runFlags) *observers {
	return &observers{
		metrics: monitor.NewMetrics(),
		status:  monitor.NewStatus(clock),
		plots:   monitor.NewPlotRenderer(f.outputDir, f.saveGrid),
		chart:   monitor.NewCommandChart(clock, f.outputDir),
	}
}

func (o *observers) fanOut() l6mission.Observers {
	return l6mission.Observers{o.metrics, o.status, o.plots, o.chart}
}

func (o *observers) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.metrics.Handler())
	o.status.AttachDebugRoutes(mux, o.plots, o.chart)
	return mux
}

func runMission(ctx context.Context, opts *globalOptions, f *runFlags, out io.Writer) error {
	mcfg := opts.tuning.ToMission()
	if len(f.waypoints) > 0 {
		wps, err := parseWaypoints(f.waypoints)
		if err != nil {
			return err
		}
		mcfg.Waypoints = wps
	}
	if len(mcfg.Waypoints) == 0 {
		return l6mission.ErrNoWaypoints
	}

	base, err := loadMap(f.mapPath, f.resolution)
	if err != nil {
		return err
	}
	world, err := buildWorld(opts.tuning, base)
	if err != nil {
		return err
	}

	if f.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, f.timeout)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	deps := l6mission.Deps{
		Grid:     world.grid,
		Detector: world.detector,
		Pursuit:  opts.tuning.ToPursuit(),
	}
	var sinks actuate.Multi
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				monitoring.Logf("failed to close command sink: %v", err)
			}
		}
	}()

	var vehicle *sim.Sim
	var listener *network.Listener
	var serialSink *actuate.SerialSink[serial.Port]
	if f.sim {
		vehicle, err = newSimVehicle(opts, f, base)
		if err != nil {
			return err
		}
		deps.Sensors, deps.Placer, deps.Clock = vehicle, vehicle, vehicle
		sinks = append(sinks, vehicle)
	} else {
		deps.Clock = timeutil.RealClock{}
		store := network.NewSensorStore(deps.Clock, f.maxPoseAge)
		listener = network.NewListener(network.ListenerConfig{
			Address:     f.listen,
			RcvBuf:      f.rcvBuf,
			LogInterval: 10 * time.Second,
			Handler:     store,
		})
		deps.Sensors = store
	}

	if f.udpSink != "" {
		u, err := actuate.DialUDP(f.udpSink)
		if err != nil {
			return err
		}
		sinks = append(sinks, u)
		closers = append(closers, u)
	}
	if f.serialPort != "" {
		serialSink, err = actuate.OpenSerialSink(f.serialPort, actuate.PortOptions{BaudRate: f.baudRate})
		if err != nil {
			return err
		}
		sinks = append(sinks, serialSink)
		closers = append(closers, serialSink)
	}
	if len(sinks) == 0 {
		return errors.New("live mode needs --udp-sink or --serial for commands")
	}
	var recorder *actuate.Recorder
	if f.record != "" {
		recorder = actuate.NewRecorder(deps.Clock)
		sinks = append(sinks, recorder)
	}
	deps.Sink = sinks

	planner, err := l4planner.New(opts.tuning.ToPlanner(), deps.Clock)
	if err != nil {
		return err
	}
	deps.Planner = planner

	obs := newObservers(deps.Clock, f)
	deps.Observer = obs.fanOut()

	nav, err := l6mission.New(mcfg, deps)
	if err != nil {
		return err
	}
	obs.status.SetNavigation(nav)

	if listener != nil {
		g.Go(func() error { return ignoreCanceled(listener.Start(gctx)) })
	}
	if serialSink != nil {
		g.Go(func() error { return ignoreCanceled(serialSink.Monitor(gctx, nil)) })
	}
	if f.httpAddr != "" {
		g.Go(func() error { return serveHTTP(gctx, f.httpAddr, obs.mux()) })
	}

	var runErr error
	g.Go(func() error {
		runErr = nav.Run(gctx)
		if !f.hold || f.httpAddr == "" {
			cancel()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	final := nav.Context()
	fmt.Fprintf(out, "run %s: %s, %d/%d waypoints, %d plans, %d commands\n",
		final.RunID, final.State, final.Visited, final.Waypoints, final.Plans, final.Commands)
	if vehicle != nil {
		st := vehicle.Stats()
		fmt.Fprintf(out, "sim: %.2fm driven in %v, %d collisions, final pose %v\n",
			st.Odometer, st.Elapsed, st.Collisions, st.Pose)
	}
	for _, name := range obs.plots.Files() {
		fmt.Fprintln(out, name)
	}
	if name := obs.chart.File(); name != "" {
		fmt.Fprintln(out, name)
	}
	if recorder != nil {
		log := runLog{RunID: final.RunID, Commands: recorder.Records()}
		if vehicle != nil {
			log.Track = vehicle.Trace()
		}
		if err := writeRunLog(f.record, log); err != nil {
			return errors.Join(runErr, err)
		}
		fmt.Fprintln(out, f.record)
	}
	return runErr
}

// runLog is the --record output.
type runLog struct {
	RunID    string            `json:"run_id"`
	Commands []actuate.Record  `json:"commands"`
	Track    []l1geometry.Pose `json:"track,omitempty"`
}

func writeRunLog(name string, log runLog) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(name, data, 0o644)
}

func newSimVehicle(opts *globalOptions, f *runFlags, base *mapio.Map) (*sim.Sim, error) {
	truth := base
	if f.truthPath != "" {
		var err error
		truth, err = mapio.LoadFile(f.truthPath, f.resolution)
		if err != nil {
			return nil, fmt.Errorf("failed to load truth map: %w", err)
		}
		if truth.Mapping != base.Mapping {
			return nil, fmt.Errorf("truth map %dx%d does not line up with the base map %dx%d",
				truth.Mapping.Rows, truth.Mapping.Cols, base.Mapping.Rows, base.Mapping.Cols)
		}
	}
	cfg := sim.DefaultConfig()
	cfg.ScanRow = opts.tuning.GetScanRow()
	if cfg.CameraHeight <= cfg.ScanRow {
		cfg.CameraHeight = cfg.ScanRow + 1
	}
	cfg.GroundHeight = opts.tuning.GetGroundHeight()
	return sim.New(cfg, truth.Raster, base.Mapping, l1geometry.Pose{})
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{Addr: addr, Handler: h}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	monitoring.Logf("serving metrics and debug pages on %s", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
