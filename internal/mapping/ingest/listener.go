package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/surface.report/internal/mapping"
)

// PacketStats tracks receive-loop counters, reported periodically.
type PacketStats struct {
	mu          sync.Mutex
	packetCount int64
	byteCount   int64
	badCount    int64
	pointCount  int64
	lastReset   time.Time
}

// AddPacket records one decoded datagram carrying points sensor samples.
func (ps *PacketStats) AddPacket(bytes, points int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
	ps.pointCount += int64(points)
}

// AddBad records one datagram that failed to decode.
func (ps *PacketStats) AddBad() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.badCount++
}

// GetAndReset returns the counters since the previous call and zeroes
// them.
func (ps *PacketStats) GetAndReset() (packets, bytes, bad, points int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	now := time.Now()
	if ps.lastReset.IsZero() {
		ps.lastReset = now
	}
	duration = now.Sub(ps.lastReset)
	packets, bytes, bad, points = ps.packetCount, ps.byteCount, ps.badCount, ps.pointCount
	ps.packetCount, ps.byteCount, ps.badCount, ps.pointCount = 0, 0, 0, 0
	ps.lastReset = now
	return
}

// UDPListener receives frame datagrams on one socket and delivers decoded
// frames to the pipeline. Frames are delivered synchronously from the
// receive loop, so a stream's arrival order is its delivery order.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	buffer      []byte
	stats       *PacketStats
	decoder     FrameDecoder
	deliver     func(*mapping.SensorFrame)
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	// Address is the UDP bind address, e.g. ":2370".
	Address string
	// RcvBuf is the socket receive buffer size; zero keeps the OS default.
	RcvBuf int
	// LogInterval is the period of the statistics log line; zero disables
	// it.
	LogInterval time.Duration
	// MaxDatagram is the receive buffer size per datagram; defaults to
	// 64KiB.
	MaxDatagram int
	// Decoder defaults to BinaryFrameDecoder.
	Decoder FrameDecoder
	// Deliver receives every decoded frame. Required.
	Deliver func(*mapping.SensorFrame)
	// Stats is optional.
	Stats *PacketStats
}

// NewUDPListener creates a listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	decoder := config.Decoder
	if decoder == nil {
		decoder = BinaryFrameDecoder{}
	}
	maxDatagram := config.MaxDatagram
	if maxDatagram <= 0 {
		maxDatagram = 64 << 10
	}
	stats := config.Stats
	if stats == nil {
		stats = &PacketStats{}
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: config.LogInterval,
		buffer:      make([]byte, maxDatagram),
		stats:       stats,
		decoder:     decoder,
		deliver:     config.Deliver,
	}
}

// Start begins receiving and processing datagrams. Returns when the
// context is cancelled or an unrecoverable socket error occurs.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			log.Printf("Warning: failed to set UDP receive buffer to %d bytes: %v", l.rcvBuf, err)
		}
	}
	log.Printf("Listening for frame datagrams on %s", l.address)

	if l.logInterval > 0 {
		go l.statsLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("UDP frame listener shutting down")
			return ctx.Err()
		default:
			if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
				log.Printf("Error setting read deadline: %v", err)
				continue
			}
			n, _, err := conn.ReadFromUDP(l.buffer)
			if err != nil {
				var nerr net.Error
				if errors.As(err, &nerr) && nerr.Timeout() {
					continue
				}
				log.Printf("UDP read error: %v", err)
				continue
			}
			l.handleDatagram(l.buffer[:n])
		}
	}
}

func (l *UDPListener) handleDatagram(payload []byte) {
	frame, err := l.decoder.Decode(payload)
	if err != nil {
		l.stats.AddBad()
		return
	}
	l.stats.AddPacket(len(payload), len(frame.Points))
	l.deliver(frame)
}

func (l *UDPListener) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			packets, bytes, bad, points, dur := l.stats.GetAndReset()
			if dur <= 0 || packets+bad == 0 {
				continue
			}
			log.Printf("ingest %s: %d frames (%d bad), %d points, %.1f KB/s",
				l.address, packets, bad, points,
				float64(bytes)/1024/dur.Seconds())
		}
	}
}
