package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/navstack/internal/monitoring"
)

// UDPSocket is the subset of *net.UDPConn the listener uses.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// ListenFunc opens the socket. net.ListenUDP adapted by ListenUDP is the
// default.
type ListenFunc func(network string, laddr *net.UDPAddr) (UDPSocket, error)

// ListenUDP opens a real UDP socket.
func ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// PacketHandler consumes datagrams. SensorStore implements it.
type PacketHandler interface {
	HandlePacket(b []byte) error
}

// Stats are cumulative listener counters.
type Stats struct {
	Packets  uint64
	Bytes    uint64
	Rejected uint64
}

type counters struct {
	packets  atomic.Uint64
	bytes    atomic.Uint64
	rejected atomic.Uint64
}

func (c *counters) handle(h PacketHandler, b []byte) error {
	c.packets.Add(1)
	c.bytes.Add(uint64(len(b)))
	if err := h.HandlePacket(b); err != nil {
		c.rejected.Add(1)
		return err
	}
	return nil
}

func (c *counters) snapshot() Stats {
	return Stats{Packets: c.packets.Load(), Bytes: c.bytes.Load(), Rejected: c.rejected.Load()}
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Handler     PacketHandler
	Listen      ListenFunc
}

// Listener reads sensor datagrams until its context is cancelled.
type Listener struct {
	cfg   ListenerConfig
	stats counters
	addr  atomic.Pointer[net.UDPAddr]
}

// NewListener creates a listener; Start opens the socket.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Listen == nil {
		cfg.Listen = ListenUDP
	}
	return &Listener{cfg: cfg}
}

// Stats returns the counters so far.
func (l *Listener) Stats() Stats { return l.stats.snapshot() }

// LocalAddr returns the bound address once Start has opened the socket.
func (l *Listener) LocalAddr() *net.UDPAddr { return l.addr.Load() }

// Start blocks, feeding every datagram to the handler, until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	if l.cfg.Handler == nil {
		return errors.New("listener has no packet handler")
	}
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.Listen("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		l.addr.Store(ua)
	}

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Logf("[network] failed to set receive buffer to %d: %v", l.cfg.RcvBuf, err)
		}
	}
	monitoring.Logf("[network] sensor listener started on %s", conn.LocalAddr())

	lastLog := time.Now()
	buffer := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			monitoring.Logf("[network] sensor listener stopping: %+v", l.Stats())
			return ctx.Err()
		}
		// The deadline lets the loop notice cancellation.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("[network] UDP read error: %v", err)
			continue
		}

		if err := l.stats.handle(l.cfg.Handler, buffer[:n]); err != nil {
			monitoring.Debugf("[network] rejected packet from %v: %v", from, err)
		}
		if time.Since(lastLog) >= l.cfg.LogInterval {
			monitoring.Logf("[network] %+v", l.Stats())
			lastLog = time.Now()
		}
	}
}
