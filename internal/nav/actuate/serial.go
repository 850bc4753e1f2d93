package actuate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l5pursuit"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// Port is the minimal interface needed for a motor-controller link.
type Port interface {
	io.ReadWriter
	io.Closer
}

// PortOptions describes the serial connection to the motor controller.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits, StopBits: serial.OneStopBit}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// SerialSink drives a motor controller speaking a line protocol:
//
//	V <linear m/s> <angular rad/s>\n
//
// Lines the controller sends back are logged by Monitor.
type SerialSink[T Port] struct {
	port T

	mu      sync.Mutex
	closing bool
}

// NewSerialSink wraps an open port.
func NewSerialSink[T Port](port T) *SerialSink[T] {
	return &SerialSink[T]{port: port}
}

// OpenSerialSink opens the controller's serial device.
func OpenSerialSink(path string, opts PortOptions) (*SerialSink[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	monitoring.Logf("[actuate] opened motor controller on %s at %d baud", path, mode.BaudRate)
	return NewSerialSink[serial.Port](port), nil
}

// FormatVelocity renders one controller command line.
func FormatVelocity(cmd l5pursuit.Command) string {
	return fmt.Sprintf("V %.4f %.4f\n", cmd.Linear, cmd.Angular)
}

// Send implements l6mission.CommandSink.
func (s *SerialSink[T]) Send(cmd l5pursuit.Command, _ l6mission.State) error {
	line := FormatVelocity(cmd)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrWriteFailed
	}
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads controller output lines until ctx is done or the port
// closes, passing each to onLine (or the log when nil).
func (s *SerialSink[T]) Monitor(ctx context.Context, onLine func(string)) error {
	if onLine == nil {
		onLine = func(line string) { monitoring.Debugf("[actuate] controller: %s", line) }
	}
	scan := bufio.NewScanner(s.port)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// The blocking scan runs apart from the select on ctx.
	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			if s.isClosing() {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			onLine(line)
		}
	}
}

func (s *SerialSink[T]) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Close stops the vehicle and closes the port.
func (s *SerialSink[T]) Close() error {
	stopErr := s.Send(l5pursuit.Stop, l6mission.StateFinished)
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return errors.Join(stopErr, s.port.Close())
}
