// Package network receives vehicle pose and depth-camera data over UDP (or
// from a pcap capture) and keeps the latest values for the navigator.
//
// Two datagram kinds share one port:
//
//	P,<x>,<y>,<heading>            pose, ASCII, heading in radians
//	'D' frame row col0 count xyz…  one run of depth samples, binary
//
// Depth packets are little-endian: byte 'D', uint32 frame id, uint16 width,
// uint16 height, uint16 row, uint16 first column, uint16 sample count, then
// count float32 (x, y, z) triples in the camera optical frame.
package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
)

const (
	posePrefix  = 'P'
	depthPrefix = 'D'

	depthHeaderLen = 15
	depthSampleLen = 12

	// MaxFrameSamples bounds width x height of a depth frame, about 30 MB
	// of samples. It covers 1280x1024 cameras.
	MaxFrameSamples = 1280 * 1024
)

var (
	ErrUnknownPacket = errors.New("unknown packet type")
	ErrMalformed     = errors.New("malformed packet")
)

// DepthRow is one decoded depth packet.
type DepthRow struct {
	Frame  uint32
	Width  int
	Height int
	Row    int
	Col0   int
	Points []l3detect.CameraPoint
}

// ParsePose decodes a "P,x,y,heading" datagram. Trailing whitespace is
// ignored.
func ParsePose(b []byte) (l1geometry.Pose, error) {
	fields := strings.Split(strings.TrimSpace(string(b)), ",")
	if len(fields) != 4 || fields[0] != string(posePrefix) {
		return l1geometry.Pose{}, fmt.Errorf("%w: pose needs P,x,y,heading, got %q", ErrMalformed, b)
	}
	var v [3]float64
	for i, f := range fields[1:] {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			return l1geometry.Pose{}, fmt.Errorf("%w: bad pose field %q", ErrMalformed, f)
		}
		v[i] = x
	}
	return l1geometry.Pose{X: v[0], Y: v[1], Heading: v[2]}, nil
}

// EncodePose is the inverse of ParsePose.
func EncodePose(p l1geometry.Pose) []byte {
	return []byte(fmt.Sprintf("P,%g,%g,%g\n", p.X, p.Y, p.Heading))
}

// ParseDepthRow decodes a binary depth packet.
func ParseDepthRow(b []byte) (DepthRow, error) {
	if len(b) < depthHeaderLen || b[0] != depthPrefix {
		return DepthRow{}, fmt.Errorf("%w: depth header needs %d bytes, got %d", ErrMalformed, depthHeaderLen, len(b))
	}
	le := binary.LittleEndian
	d := DepthRow{
		Frame:  le.Uint32(b[1:5]),
		Width:  int(le.Uint16(b[5:7])),
		Height: int(le.Uint16(b[7:9])),
		Row:    int(le.Uint16(b[9:11])),
		Col0:   int(le.Uint16(b[11:13])),
	}
	count := int(le.Uint16(b[13:15]))

	switch {
	case d.Width == 0 || d.Height == 0 || d.Width*d.Height > MaxFrameSamples:
		return DepthRow{}, fmt.Errorf("%w: frame size %dx%d", ErrMalformed, d.Width, d.Height)
	case d.Row >= d.Height || d.Col0+count > d.Width:
		return DepthRow{}, fmt.Errorf("%w: row %d cols %d+%d outside %dx%d frame",
			ErrMalformed, d.Row, d.Col0, count, d.Width, d.Height)
	case len(b) != depthHeaderLen+count*depthSampleLen:
		return DepthRow{}, fmt.Errorf("%w: %d samples need %d bytes, got %d",
			ErrMalformed, count, depthHeaderLen+count*depthSampleLen, len(b))
	}

	d.Points = make([]l3detect.CameraPoint, count)
	body := b[depthHeaderLen:]
	for i := range d.Points {
		s := body[i*depthSampleLen:]
		d.Points[i] = l3detect.CameraPoint{
			X: float64(math.Float32frombits(le.Uint32(s[0:4]))),
			Y: float64(math.Float32frombits(le.Uint32(s[4:8]))),
			Z: float64(math.Float32frombits(le.Uint32(s[8:12]))),
		}
	}
	return d, nil
}

// EncodeDepthRow packs count samples of one frame row starting at col0.
func EncodeDepthRow(frame uint32, f *l3detect.DepthFrame, row, col0, count int) ([]byte, error) {
	if row < 0 || row >= f.Height || col0 < 0 || count < 0 || col0+count > f.Width {
		return nil, fmt.Errorf("row %d cols %d+%d outside %dx%d frame", row, col0, count, f.Width, f.Height)
	}
	if f.Width > math.MaxUint16 || f.Height > math.MaxUint16 || f.Width*f.Height > MaxFrameSamples {
		return nil, fmt.Errorf("frame %dx%d exceeds %d samples", f.Width, f.Height, MaxFrameSamples)
	}
	var buf bytes.Buffer
	buf.Grow(depthHeaderLen + count*depthSampleLen)
	buf.WriteByte(depthPrefix)
	le := binary.LittleEndian
	buf.Write(le.AppendUint32(nil, frame))
	for _, v := range []int{f.Width, f.Height, row, col0, count} {
		buf.Write(le.AppendUint16(nil, uint16(v)))
	}
	for i := 0; i < count; i++ {
		p, _ := f.At(col0+i, row)
		for _, c := range []float64{p.X, p.Y, p.Z} {
			buf.Write(le.AppendUint32(nil, math.Float32bits(float32(c))))
		}
	}
	return buf.Bytes(), nil
}
