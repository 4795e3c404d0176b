// Command mapper runs the volumetric surface-mapping service: UDP frame
// ingest, TSDF map integration, periodic and on-demand mesh generation,
// and an HTTP/WebSocket service surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/surface.report/internal/mapping"
	"github.com/banshee-data/surface.report/internal/mapping/ingest"
	"github.com/banshee-data/surface.report/internal/mapping/publish"
	"github.com/banshee-data/surface.report/internal/mapping/storage/sqlite"
	"github.com/banshee-data/surface.report/internal/mapping/tfbuffer"
	"github.com/banshee-data/surface.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8081", "HTTP listen address")
	udpPort       = flag.Int("udp-port", 2370, "UDP port for primary point cloud frames")
	freespacePort = flag.Int("freespace-port", 2371, "UDP port for freespace frames (used when enabled in config)")
	configFile    = flag.String("config", "", "Path to JSON config file (defaults apply when empty)")
	dbFile        = flag.String("db", "mapper_meta.db", "Path to the metadata SQLite database (empty disables recording)")
	meshFile      = flag.String("mesh-file", "", "Override mesh_filename from the config")
	rcvBuf        = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	logInterval   = flag.Int("log-interval", 2, "Ingest statistics logging interval in seconds")
)

func main() {
	flag.Parse()
	log.Printf("mapper %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := mapping.DefaultConfig()
	if *configFile != "" {
		loaded, err := mapping.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("loading config %s: %v", *configFile, err)
		}
		cfg = loaded
	}
	if *meshFile != "" {
		cfg.MeshFilename = *meshFile
	}

	var store mapping.RunStore
	if *dbFile != "" {
		s, err := sqlite.New(*dbFile)
		if err != nil {
			log.Fatalf("opening metadata db %s: %v", *dbFile, err)
		}
		defer s.Close()
		store = s
	}

	poses := tfbuffer.NewBuffer(cfg.PoseBufferWindow())
	publisher := publish.NewPublisher(publish.DefaultConfig())
	server := mapping.NewMappingServer(cfg, mapping.ServerDeps{
		Resolver: poses,
		Sink:     publisher,
		Store:    store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	primary := ingest.NewUDPListener(ingest.UDPListenerConfig{
		Address:     fmt.Sprintf(":%d", *udpPort),
		RcvBuf:      *rcvBuf,
		LogInterval: time.Duration(*logInterval) * time.Second,
		Deliver:     server.InsertPointCloud,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := primary.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("primary listener stopped: %v", err)
			stop()
		}
	}()

	if cfg.UseFreespacePointcloud {
		freespace := ingest.NewUDPListener(ingest.UDPListenerConfig{
			Address:     fmt.Sprintf(":%d", *freespacePort),
			RcvBuf:      *rcvBuf,
			LogInterval: time.Duration(*logInterval) * time.Second,
			Deliver:     server.InsertFreespacePointCloud,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := freespace.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("freespace listener stopped: %v", err)
				stop()
			}
		}()
	}

	web := mapping.NewWebServer(mapping.WebServerConfig{
		Address:   *listen,
		Mapping:   server,
		Poses:     poses,
		WSHandler: publisher,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := web.Start(ctx); err != nil {
			log.Printf("web server stopped: %v", err)
			stop()
		}
	}()

	// Incremental mesh timer; returns immediately when disabled.
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Run(ctx)
	}()

	<-ctx.Done()
	log.Println("mapper shutting down")
	wg.Wait()
}
