// Package actuate delivers navigator velocity commands to the vehicle: a UDP
// datagram per command, a serial motor controller, or an in-memory recorder.
package actuate

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l5pursuit"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
	"github.com/banshee-data/navstack/internal/timeutil"
)

// FormatCSV renders a command as "linear,angular,STATE\n".
func FormatCSV(cmd l5pursuit.Command, state l6mission.State) string {
	return fmt.Sprintf("%.4f,%.4f,%s\n", cmd.Linear, cmd.Angular, state)
}

// ParseCSV is the inverse of FormatCSV.
func ParseCSV(line string) (l5pursuit.Command, l6mission.State, error) {
	f := strings.Split(strings.TrimSpace(line), ",")
	if len(f) != 3 {
		return l5pursuit.Command{}, 0, fmt.Errorf("command needs linear,angular,state, got %q", line)
	}
	lin, err := strconv.ParseFloat(f[0], 64)
	if err != nil {
		return l5pursuit.Command{}, 0, fmt.Errorf("bad linear velocity %q: %w", f[0], err)
	}
	ang, err := strconv.ParseFloat(f[1], 64)
	if err != nil {
		return l5pursuit.Command{}, 0, fmt.Errorf("bad angular velocity %q: %w", f[1], err)
	}
	st, err := l6mission.ParseState(f[2])
	if err != nil {
		return l5pursuit.Command{}, 0, err
	}
	return l5pursuit.Command{Linear: lin, Angular: ang}, st, nil
}

// UDPSink sends one CSV datagram per command.
type UDPSink struct {
	conn net.Conn
}

// DialUDP connects a sink to addr ("host:port").
func DialUDP(addr string) (*UDPSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial command sink %s: %w", addr, err)
	}
	monitoring.Logf("[actuate] sending commands to udp://%s", addr)
	return &UDPSink{conn: conn}, nil
}

// Send implements l6mission.CommandSink.
func (u *UDPSink) Send(cmd l5pursuit.Command, state l6mission.State) error {
	_, err := u.conn.Write([]byte(FormatCSV(cmd, state)))
	return err
}

// Close sends a final stop and closes the socket.
func (u *UDPSink) Close() error {
	return errors.Join(u.Send(l5pursuit.Stop, l6mission.StateFinished), u.conn.Close())
}

// Record is one command seen by a Recorder.
type Record struct {
	At      time.Time         `json:"at"`
	Command l5pursuit.Command `json:"command"`
	State   l6mission.State   `json:"state"`
}

// Recorder keeps every command in memory. It is safe for concurrent use.
type Recorder struct {
	clock timeutil.Clock

	mu      sync.Mutex
	records []Record
}

// NewRecorder stamps records with clock, or wall time when nil.
func NewRecorder(clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{clock: clock}
}

// Send implements l6mission.CommandSink.
func (r *Recorder) Send(cmd l5pursuit.Command, state l6mission.State) error {
	at := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{At: at, Command: cmd, State: state})
	return nil
}

// Records returns a copy of everything sent so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Multi sends every command to each sink in order. All sinks are tried;
// their errors are joined.
type Multi []l6mission.CommandSink

// Send implements l6mission.CommandSink.
func (m Multi) Send(cmd l5pursuit.Command, state l6mission.State) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(cmd, state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
