package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Config holds configuration for the WebSocket publisher.
type Config struct {
	// MaxClients is the maximum number of concurrent subscribers.
	MaxClients int
	// SendBuffer is the per-client message buffer; a client that falls
	// this far behind starts losing messages.
	SendBuffer int
	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout time.Duration
}

// DefaultConfig returns the publisher defaults.
func DefaultConfig() Config {
	return Config{
		MaxClients:   8,
		SendBuffer:   16,
		WriteTimeout: 10 * time.Second,
	}
}

// Publisher fans published messages out to WebSocket subscribers. Slow
// clients drop messages rather than stalling the pipeline; the mesh is
// regenerated continuously so a dropped update is superseded by the next
// one.
type Publisher struct {
	cfg Config

	clientsMu sync.Mutex
	clients   map[string]*client

	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

type client struct {
	id     string
	sendCh chan []byte
	doneCh chan struct{}
}

// NewPublisher creates a Publisher.
func NewPublisher(cfg Config) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Publisher{
		cfg:     cfg,
		clients: make(map[string]*client),
	}
}

// PublishMesh broadcasts a mesh update.
func (p *Publisher) PublishMesh(u *MeshUpdate) {
	p.publish(&Envelope{Kind: KindMeshUpdate, Mesh: u})
}

// PublishOccupiedBlocks broadcasts an occupied-blocks diagnostic.
func (p *Publisher) PublishOccupiedBlocks(o *OccupiedBlocks) {
	p.publish(&Envelope{Kind: KindOccupiedBlocks, Occupied: o})
}

// PublishSlice broadcasts a TSDF slice diagnostic.
func (p *Publisher) PublishSlice(s *TSDFSlice) {
	p.publish(&Envelope{Kind: KindTSDFSlice, Slice: s})
}

// PublishTSDFPointcloud broadcasts the observed-voxel distance pointcloud.
func (p *Publisher) PublishTSDFPointcloud(pc *TSDFPointcloud) {
	p.publish(&Envelope{Kind: KindTSDFPointcloud, Pointcloud: pc})
}

// PublishSurfacePoints broadcasts the near-surface voxel pointcloud.
func (p *Publisher) PublishSurfacePoints(sp *SurfacePoints) {
	p.publish(&Envelope{Kind: KindSurfacePoints, Surface: sp})
}

func (p *Publisher) publish(env *Envelope) {
	env.Sequence = p.seq.Add(1)
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("publish: marshal %s: %v", env.Kind, err)
		return
	}
	p.published.Add(1)

	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	for _, c := range p.clients {
		select {
		case c.sendCh <- data:
		default:
			p.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (p *Publisher) ClientCount() int {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	return len(p.clients)
}

// Stats returns cumulative publish and drop counts.
func (p *Publisher) Stats() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}

// ServeHTTP upgrades the request to a WebSocket subscription and streams
// published messages until the client disconnects.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("publish: websocket accept: %v", err)
		return
	}

	c := &client{
		id:     fmt.Sprintf("ws-%d", time.Now().UnixNano()),
		sendCh: make(chan []byte, p.cfg.SendBuffer),
		doneCh: make(chan struct{}),
	}
	if !p.addClient(c) {
		conn.Close(websocket.StatusTryAgainLater, "too many clients")
		return
	}
	defer p.removeClient(c.id)

	// Discard inbound frames; the stream is publish-only. CloseRead also
	// surfaces client disconnects through ctx.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data := <-c.sendCh:
			writeCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (p *Publisher) addClient(c *client) bool {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.cfg.MaxClients {
		return false
	}
	p.clients[c.id] = c
	log.Printf("publish: client %s connected (%d total)", c.id, len(p.clients))
	return true
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if c, ok := p.clients[id]; ok {
		close(c.doneCh)
		delete(p.clients, id)
		log.Printf("publish: client %s disconnected (%d total)", id, len(p.clients))
	}
}
