package mapping

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/tfbuffer"
	"github.com/banshee-data/surface.report/internal/security"
	"github.com/banshee-data/surface.report/internal/version"
)

// PoseSink accepts externally published transforms. Implemented by
// tfbuffer.Buffer.
type PoseSink interface {
	Put(source, target string, st tfbuffer.StampedTransform)
}

// WebServer exposes the service interface over HTTP: health, map stats,
// mesh generation, map save/load/clear, pose input, and the mesh
// WebSocket stream.
type WebServer struct {
	address string
	server  *http.Server
	mapping *MappingServer
	poses   PoseSink
	// wsHandler serves the mesh WebSocket stream; nil disables the route.
	wsHandler http.Handler
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address   string
	Mapping   *MappingServer
	Poses     PoseSink
	WSHandler http.Handler
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   config.Address,
		mapping:   config.Mapping,
		poses:     config.Poses,
		wsHandler: config.WSHandler,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.ServeMux(),
	}
	return ws
}

// ServeMux builds the route table.
func (ws *WebServer) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", ws.healthHandler)
	mux.HandleFunc("GET /api/map/stats", ws.statsHandler)
	mux.HandleFunc("POST /api/mesh/generate", ws.generateMeshHandler)
	mux.HandleFunc("POST /api/map/save", ws.saveMapHandler)
	mux.HandleFunc("POST /api/map/load", ws.loadMapHandler)
	mux.HandleFunc("POST /api/map/clear", ws.clearMapHandler)
	mux.HandleFunc("POST /api/pose", ws.poseHandler)
	if ws.wsHandler != nil {
		mux.Handle("GET /ws/mesh", ws.wsHandler)
	}
	return mux
}

// Start runs the HTTP server until the context is cancelled, then shuts
// it down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.Printf("mapping web server listening on %s", ws.address)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.server.Shutdown(shutdownCtx)
	}
}

func (ws *WebServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version.Version})
}

func (ws *WebServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ws.mapping.Stats())
}

func (ws *WebServer) generateMeshHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, ws.mapping.GenerateMesh())
}

type pathRequest struct {
	Path     string `json:"path"`
	Strategy string `json:"strategy,omitempty"`
}

func (ws *WebServer) saveMapHandler(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		http.Error(w, "body must be JSON with a non-empty \"path\"", http.StatusBadRequest)
		return
	}
	if !ws.allowMapPath(w, req.Path) {
		return
	}
	writeResult(w, ws.mapping.SaveMap(req.Path))
}

func (ws *WebServer) loadMapHandler(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		http.Error(w, "body must be JSON with a non-empty \"path\"", http.StatusBadRequest)
		return
	}
	if !ws.allowMapPath(w, req.Path) {
		return
	}
	writeResult(w, ws.mapping.LoadMap(req.Path, req.Strategy))
}

// allowMapPath enforces the configured map directory on client-supplied
// paths. Writes a 403 and returns false on violation.
func (ws *WebServer) allowMapPath(w http.ResponseWriter, path string) bool {
	dir := ws.mapping.cfg.MapDirectory
	if dir == "" {
		return true
	}
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		http.Error(w, "path must be inside the configured map directory", http.StatusForbidden)
		return false
	}
	return true
}

func (ws *WebServer) clearMapHandler(w http.ResponseWriter, r *http.Request) {
	ws.mapping.Clear()
	writeResult(w, true)
}

// poseRequest is the wire form of a published transform: source frame to
// world frame at a timestamp, rotation as a w,x,y,z unit quaternion.
type poseRequest struct {
	SourceFrame string     `json:"source_frame"`
	StampNs     int64      `json:"stamp_ns"`
	Translation [3]float64 `json:"translation"`
	Rotation    [4]float64 `json:"rotation"`
}

func (ws *WebServer) poseHandler(w http.ResponseWriter, r *http.Request) {
	if ws.poses == nil {
		http.Error(w, "pose input not configured", http.StatusNotFound)
		return
	}
	var req poseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceFrame == "" {
		http.Error(w, "body must be JSON with a non-empty \"source_frame\"", http.StatusBadRequest)
		return
	}
	st := tfbuffer.StampedTransform{
		Transform: tfbuffer.Transform{
			Rotation: quat.Number{
				Real: req.Rotation[0],
				Imag: req.Rotation[1],
				Jmag: req.Rotation[2],
				Kmag: req.Rotation[3],
			},
			Translation: r3.Vec{
				X: req.Translation[0],
				Y: req.Translation[1],
				Z: req.Translation[2],
			},
		}.Normalized(),
		Stamp: time.Unix(0, req.StampNs),
	}
	ws.poses.Put(req.SourceFrame, ws.mapping.cfg.WorldFrame, st)
	writeResult(w, true)
}

func writeResult(w http.ResponseWriter, ok bool) {
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]bool{"success": ok})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("webserver: encoding response: %v", err)
	}
}
