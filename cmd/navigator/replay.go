package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/navstack/internal/mapio"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
	"github.com/banshee-data/navstack/internal/nav/network"
)

type replayFlags struct {
	mapPath    string
	resolution float64
	port       int
	realtime   bool
	saveGrid   string
}

func newReplayCmd(opts *globalOptions) *cobra.Command {
	f := &replayFlags{}
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Feed a packet capture through the sensor store and obstacle detector",
		Long: `Replay recorded pose and depth datagrams. Every completed depth frame is
scanned against the latest pose, so obstacles the vehicle would have marked
show up in the working grid; --save-grid writes that grid out as PGM.

Requires a binary built with -tags=pcap.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return replay(ctx, opts, f, args[0], cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.mapPath, "map", "", "base map (.yaml metadata or .pgm); blank 20m site when empty")
	fl.Float64Var(&f.resolution, "resolution", blankResolution, "meters per cell for bare .pgm maps")
	fl.IntVar(&f.port, "port", 9870, "UDP destination port of the sensor stream")
	fl.BoolVar(&f.realtime, "realtime", false, "keep the capture's packet timing")
	fl.StringVar(&f.saveGrid, "save-grid", "", "write the final working grid to this PGM")
	return cmd
}

// frameScanner passes datagrams to the store and runs the detector on each
// depth frame once the next one starts arriving.
type frameScanner struct {
	store    *network.SensorStore
	detector *l3detect.Detector

	frames    int
	scans     int
	obstacles int
	marked    int
}

func (s *frameScanner) HandlePacket(b []byte) error {
	if len(b) > 0 && b[0] == 'D' {
		if row, err := network.ParseDepthRow(b); err == nil && row.Frame != s.store.FrameID() {
			s.flush()
		}
	}
	return s.store.HandlePacket(b)
}

// flush scans the frame currently held by the store.
func (s *frameScanner) flush() {
	frame := s.store.Depth()
	if frame == nil {
		return
	}
	s.frames++
	pose, ok := s.store.Pose()
	if !ok {
		return
	}
	res := s.detector.Scan(pose, frame)
	s.scans++
	s.marked += res.Marked
	if res.NewObstacle {
		s.obstacles++
	}
}

func replay(ctx context.Context, opts *globalOptions, f *replayFlags, pcapFile string, out io.Writer) error {
	base, err := loadMap(f.mapPath, f.resolution)
	if err != nil {
		return err
	}
	world, err := buildWorld(opts.tuning, base)
	if err != nil {
		return err
	}
	// Capture time is not wall time, so poses are never treated as stale.
	scanner := &frameScanner{store: network.NewSensorStore(nil, 0), detector: world.detector}

	stats, err := network.ReadPCAPFile(ctx, pcapFile, f.port, scanner, f.realtime)
	if err != nil {
		return err
	}
	scanner.flush()

	fmt.Fprintf(out, "packets %d (%d bytes, %d rejected), sensor updates %d\n",
		stats.Packets, stats.Bytes, stats.Rejected, scanner.store.Seq())
	fmt.Fprintf(out, "frames %d, scanned %d, with new obstacles %d, samples marked %d\n",
		scanner.frames, scanner.scans, scanner.obstacles, scanner.marked)
	if pose, ok := scanner.store.Pose(); ok {
		fmt.Fprintf(out, "last pose %v\n", pose)
	}
	if f.saveGrid != "" {
		if err := mapio.SaveMap(f.saveGrid, world.grid.Snapshot().Raster()); err != nil {
			return err
		}
		fmt.Fprintln(out, f.saveGrid)
	}
	return nil
}
