package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
	"github.com/banshee-data/navstack/internal/timeutil"
)

// SensorStore holds the most recent pose and depth frame. It implements
// l6mission.SensorSource and is safe for concurrent use: the listener
// writes while the control loop reads.
type SensorStore struct {
	clock      timeutil.Clock
	maxPoseAge time.Duration

	mu       sync.RWMutex
	pose     l1geometry.Pose
	poseAt   time.Time
	havePose bool
	frame    *l3detect.DepthFrame
	frameID  uint32
	seq      uint64
}

// NewSensorStore returns an empty store. A pose older than maxPoseAge is
// reported as missing; zero disables the check.
func NewSensorStore(clock timeutil.Clock, maxPoseAge time.Duration) *SensorStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SensorStore{clock: clock, maxPoseAge: maxPoseAge}
}

// SetPose records a new pose.
func (s *SensorStore) SetPose(p l1geometry.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = p
	s.poseAt = s.clock.Now()
	s.havePose = true
	s.seq++
}

// SetDepthRow writes a run of samples into the current frame. A new frame
// id or frame size starts a fresh frame.
func (s *SensorStore) SetDepthRow(d DepthRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil || d.Frame != s.frameID || d.Width != s.frame.Width || d.Height != s.frame.Height {
		s.frame = l3detect.NewDepthFrame(d.Width, d.Height)
		s.frameID = d.Frame
	}
	for i, p := range d.Points {
		s.frame.Set(d.Col0+i, d.Row, p)
	}
	s.seq++
}

// Pose implements l6mission.SensorSource.
func (s *SensorStore) Pose() (l1geometry.Pose, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.havePose {
		return l1geometry.Pose{}, false
	}
	if s.maxPoseAge > 0 && s.clock.Since(s.poseAt) > s.maxPoseAge {
		return s.pose, false
	}
	return s.pose, true
}

// Depth implements l6mission.SensorSource. The frame is a copy.
func (s *SensorStore) Depth() *l3detect.DepthFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame.Clone()
}

// FrameID returns the id of the frame Depth would return.
func (s *SensorStore) FrameID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameID
}

// Seq counts accepted updates of either kind.
func (s *SensorStore) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// HandlePacket decodes one datagram and applies it.
func (s *SensorStore) HandlePacket(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty datagram", ErrMalformed)
	}
	switch b[0] {
	case posePrefix:
		p, err := ParsePose(b)
		if err != nil {
			return err
		}
		s.SetPose(p)
	case depthPrefix:
		d, err := ParseDepthRow(b)
		if err != nil {
			return err
		}
		s.SetDepthRow(d)
	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnknownPacket, b[0])
	}
	return nil
}
