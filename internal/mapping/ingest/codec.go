// Package ingest receives sensor point-cloud frames over UDP and hands
// them to the mapping pipeline. The wire format is a minimal
// length-prefixed binary layout; anything richer stays behind the
// FrameDecoder interface.
package ingest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping"
	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

// FrameDecoder turns one datagram payload into a sensor frame.
type FrameDecoder interface {
	Decode(payload []byte) (*mapping.SensorFrame, error)
}

// Frame wire layout (little endian):
//
//	magic    "SRF1" (4 bytes)
//	flags    uint8, bit 0 = colors present
//	frame    uint16 length + UTF-8 frame name
//	stamp    int64 unix nanos
//	count    uint32 point count
//	points   count * 3 * float32
//	colors   count * 4 bytes (rgba), only when flagged
var frameMagic = [4]byte{'S', 'R', 'F', '1'}

const flagHasColors = 0x01

// maxFramePoints bounds a single datagram's declared point count to keep
// a corrupt header from causing a huge allocation.
const maxFramePoints = 1 << 20

// BinaryFrameDecoder decodes the native frame layout.
type BinaryFrameDecoder struct{}

// Decode parses a frame payload. Truncated or malformed payloads fail;
// the caller drops the datagram.
func (BinaryFrameDecoder) Decode(payload []byte) (*mapping.SensorFrame, error) {
	r := bytes.NewReader(payload)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != frameMagic {
		return nil, fmt.Errorf("bad frame magic")
	}
	var flags uint8
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("read flags: %w", err)
	}
	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("read frame name length: %w", err)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("read frame name: %w", err)
	}
	var stampNs int64
	if err := binary.Read(r, binary.LittleEndian, &stampNs); err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read point count: %w", err)
	}
	if count > maxFramePoints {
		return nil, fmt.Errorf("frame declares %d points, max %d", count, maxFramePoints)
	}

	coords := make([]float32, 3*count)
	if err := binary.Read(r, binary.LittleEndian, &coords); err != nil {
		return nil, fmt.Errorf("read points: %w", err)
	}
	frame := &mapping.SensorFrame{
		Frame:  string(name),
		Stamp:  time.Unix(0, stampNs),
		Points: make([]r3.Vec, count),
	}
	for i := range frame.Points {
		frame.Points[i] = r3.Vec{
			X: float64(coords[3*i]),
			Y: float64(coords[3*i+1]),
			Z: float64(coords[3*i+2]),
		}
	}

	if flags&flagHasColors != 0 {
		rgba := make([]byte, 4*count)
		if _, err := io.ReadFull(r, rgba); err != nil {
			return nil, fmt.Errorf("read colors: %w", err)
		}
		frame.Colors = make([]voxel.Color, count)
		for i := range frame.Colors {
			frame.Colors[i] = voxel.Color{
				R: rgba[4*i], G: rgba[4*i+1], B: rgba[4*i+2], A: rgba[4*i+3],
			}
		}
	}
	return frame, nil
}

// EncodeFrame serializes a frame in the native layout. Used by replay
// tooling and tests.
func EncodeFrame(frame *mapping.SensorFrame) []byte {
	var buf bytes.Buffer
	buf.Write(frameMagic[:])

	var flags uint8
	if len(frame.Colors) > 0 {
		flags |= flagHasColors
	}
	buf.WriteByte(flags)

	name := []byte(frame.Frame)
	binary.Write(&buf, binary.LittleEndian, uint16(len(name)))
	buf.Write(name)
	binary.Write(&buf, binary.LittleEndian, frame.Stamp.UnixNano())
	binary.Write(&buf, binary.LittleEndian, uint32(len(frame.Points)))

	coords := make([]float32, 0, 3*len(frame.Points))
	for _, p := range frame.Points {
		coords = append(coords, clampFloat32(p.X), clampFloat32(p.Y), clampFloat32(p.Z))
	}
	binary.Write(&buf, binary.LittleEndian, coords)

	if flags&flagHasColors != 0 {
		for i := range frame.Points {
			c := voxel.Gray()
			if i < len(frame.Colors) {
				c = frame.Colors[i]
			}
			buf.Write([]byte{c.R, c.G, c.B, c.A})
		}
	}
	return buf.Bytes()
}

// clampFloat32 narrows a coordinate, preserving NaN and infinities so
// sanitization downstream still sees them.
func clampFloat32(f float64) float32 {
	if math.IsNaN(f) {
		return float32(math.NaN())
	}
	return float32(f)
}
