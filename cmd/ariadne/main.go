package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nsls2/ariadne/internal/api"
	"github.com/nsls2/ariadne/internal/bluesky"
	"github.com/nsls2/ariadne/internal/config"
	"github.com/nsls2/ariadne/internal/docmux"
	"github.com/nsls2/ariadne/internal/feed"
	"github.com/nsls2/ariadne/internal/render"
	"github.com/nsls2/ariadne/internal/store"
	"github.com/nsls2/ariadne/internal/version"
)

var (
	configPath    = flag.String("config", "", "JSON config file (built-in defaults when empty)")
	listen        = flag.String("listen", "", "Listen address (overrides the config file)")
	tcpAddrs      = flag.String("tcp", "", "Comma-separated host:port document servers to subscribe to")
	redisURL      = flag.String("redis-url", "", "Redis URL for live documents (defaults to $REDIS_URL)")
	redisChannels = flag.String("redis-channels", "", "Comma-separated redis pub/sub channels")
	redisCodec    = flag.String("redis-codec", "json", "Payload codec on the redis channels: json or cbor")
	replay        = flag.String("replay", "", "Comma-separated JSONL glob patterns to replay at startup")
	assetsHost    = flag.String("echarts-assets", "", "Base URL of the echarts javascript assets")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadConfig reads path, or starts from an empty config when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.LoadConfig(path)
}

// applyFlags layers the command-line sources over cfg.
func applyFlags(cfg *config.Config) error {
	if *listen != "" {
		cfg.Listen = listen
	}
	for _, addr := range splitList(*tcpAddrs) {
		cfg.SubscribeTo = append(cfg.SubscribeTo, config.Subscription{Protocol: config.ProtocolTCP, Addr: addr})
	}
	url := *redisURL
	if url == "" {
		url = os.Getenv("REDIS_URL")
	}
	if channels := splitList(*redisChannels); len(channels) > 0 {
		if url == "" {
			return fmt.Errorf("-redis-channels requires -redis-url or REDIS_URL")
		}
		cfg.SubscribeTo = append(cfg.SubscribeTo, config.Subscription{
			Protocol: config.ProtocolRedis, Addr: url, Channels: channels, Codec: *redisCodec,
		})
	}
	cfg.Replay = append(cfg.Replay, splitList(*replay)...)
	return cfg.Validate()
}

// openSources connects every configured source. The returned muxes are
// only for admin routes; the sources own and close them.
func openSources(ctx context.Context, cfg *config.Config) ([]feed.Source, []docmux.Mux, error) {
	var sources []feed.Source
	var muxes []docmux.Mux
	for _, sub := range cfg.SubscribeTo {
		switch sub.Protocol {
		case config.ProtocolTCP:
			m, err := docmux.Dial(ctx, sub.Addr, sub.Addr)
			if err != nil {
				return nil, nil, err
			}
			muxes = append(muxes, m)
			sources = append(sources, &feed.MuxSource{Mux: m, View: feed.ViewLive, Tag: "tcp:" + sub.Addr})
		case config.ProtocolRedis:
			codec, err := bluesky.ParseCodec(sub.Codec)
			if err != nil {
				return nil, nil, err
			}
			src, err := feed.NewRedisSource(ctx, sub.Addr, sub.Channels, codec)
			if err != nil {
				return nil, nil, err
			}
			sources = append(sources, src)
		}
	}
	if len(cfg.Replay) > 0 {
		sources = append(sources, &feed.ReplaySource{Patterns: cfg.Replay, View: feed.ViewReplay})
	}
	return sources, muxes, nil
}

// Main
func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := applyFlags(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	log.Print(version.String())

	journal, err := store.Open(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open run journal: %v", err)
	}
	defer journal.Close()

	thumbDir := cfg.GetThumbnailDir()
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		log.Fatalf("failed to create thumbnail directory: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seq := feed.NewSequencer(1024)
	var jobs chan thumbnailJob
	if cfg.GetExportThumbnails() {
		jobs = make(chan thumbnailJob, 64)
		exporter := render.NewThumbnailExporter(thumbDir, journal)
		wg.Add(1)
		go func() {
			defer wg.Done()
			exportThumbnails(ctx, exporter, jobs)
			log.Print("thumbnail routine terminated")
		}()
	}
	sourceOf := func() string { return seq.Current().Source }
	live := newView(feed.ViewLive, cfg.GetLiveMaxRuns(), journal, sourceOf, jobs)
	replayed := newView(feed.ViewReplay, cfg.GetReplayMaxRuns(), journal, sourceOf, jobs)
	seq.Route(live.name, live.router)
	seq.Route(replayed.name, replayed.router)

	sources, muxes, err := openSources(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open document sources: %v", err)
	}
	if len(sources) == 0 {
		log.Print("no document sources configured; serving an empty view")
	}

	// the sequencer owns the routers, dispatchers and backends
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := seq.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("sequencer stopped: %v", err)
		}
		log.Print("sequencer routine terminated")
	}()

	for _, src := range sources {
		wg.Add(1)
		go func(src feed.Source) {
			defer wg.Done()
			if err := src.Run(ctx, seq); err != nil {
				log.Printf("source %s stopped: %v", src.Name(), err)
			}
			if m, ok := src.(*feed.MuxSource); ok {
				m.Mux.Close()
			}
			if r, ok := src.(*feed.RedisSource); ok {
				r.Close()
			}
			log.Printf("source %s terminated", src.Name())
		}(src)
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(seq, journal, thumbDir)
		srv.AddView(live.backend)
		srv.AddView(replayed.backend)
		if *assetsHost != "" {
			srv.SetHTMLOptions(render.HTMLOptions{AssetsHost: *assetsHost})
		}
		mux := srv.ServeMux()

		if err := journal.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach journal admin routes: %v", err)
		}
		if len(muxes) == 0 {
			docmux.NewDisabled().AttachAdminRoutes(mux)
		}
		for _, m := range muxes {
			m.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
