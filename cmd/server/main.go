package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/crystal-mush/mushcode/pkg/boltstore"
	"github.com/crystal-mush/mushcode/pkg/config"
	"github.com/crystal-mush/mushcode/pkg/engine"
	"github.com/crystal-mush/mushcode/pkg/events"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/metrics"
	"github.com/crystal-mush/mushcode/pkg/queue"
)

// Version is the engine version reported by version().
// Override at build time with: go build -ldflags "-X main.Version=0.3.0"
var Version = "0.3.0"

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

// console prints everything addressed to one object on stdout.
type console struct {
	mu   sync.Mutex
	ansi bool
}

func (c *console) Receive(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Println(ev.Text.Render(c.ansi))
}

func (c *console) Closed() bool { return false }

func main() {
	confFile := flag.String("conf", envDefault("MUSH_CONF", ""), "Path to engine config file (env: MUSH_CONF)")
	boltPath := flag.String("bolt", envDefault("MUSH_BOLT", ""), "Path to bbolt database, overrides config (env: MUSH_BOLT)")
	worldPath := flag.String("world", envDefault("MUSH_WORLD", ""), "YAML world imported into an empty database (env: MUSH_WORLD)")
	metricsAddr := flag.String("metrics", envDefault("MUSH_METRICS", ""), "Metrics listen address, overrides config (env: MUSH_METRICS)")
	player := flag.Int("player", 0, "Object the console acts as, overrides config (env: MUSH_PLAYER)")
	ansi := flag.Bool("ansi", os.Getenv("MUSH_ANSI") == "true", "Render styled output with ANSI escapes (env: MUSH_ANSI)")
	fresh := flag.Bool("fresh", os.Getenv("MUSH_FRESH") == "true", "Delete the bolt database on startup for a clean reimport (env: MUSH_FRESH)")
	flag.Parse()

	log.Printf("Welcome to mushcode %s", Version)

	// Handle MUSH_PLAYER env if -player flag not set
	if *player == 0 {
		if v := os.Getenv("MUSH_PLAYER"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				*player = p
			}
		}
	}

	cfg := config.Default()
	if *confFile != "" {
		var err error
		cfg, err = config.Load(*confFile)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		log.Printf("Loaded config from %s", *confFile)
	}

	// Command-line flags override config file values
	if *boltPath != "" {
		cfg.Database = *boltPath
	}
	if *worldPath != "" {
		cfg.World = *worldPath
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *player != 0 {
		cfg.ConsolePlayer = *player
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if *fresh {
		if err := os.Remove(cfg.Database); err != nil && !os.IsNotExist(err) {
			log.Fatalf("Error removing bolt database for fresh start: %v", err)
		}
		log.Printf("Fresh mode: removed %s for clean reimport", cfg.Database)
	}

	store, err := boltstore.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Error opening bolt database: %v", err)
	}
	defer store.Close()

	if store.HasData() {
		log.Printf("Loading database from bbolt: %s", cfg.Database)
		if err := store.Load(); err != nil {
			log.Fatalf("Error loading from bolt: %v", err)
		}
	} else if cfg.World != "" {
		log.Printf("Importing world %s into bbolt %s...", cfg.World, cfg.Database)
		start := time.Now()
		db, err := gamedb.LoadWorldFile(cfg.World)
		if err != nil {
			log.Fatalf("Error loading world: %v", err)
		}
		if err := store.Import(db); err != nil {
			log.Fatalf("Error importing world: %v", err)
		}
		log.Printf("World imported in %v", time.Since(start))
	} else {
		log.Printf("WARNING: %s is empty and no world was given", cfg.Database)
	}
	objs, _ := store.DB().Snapshot()
	log.Printf("Database ready: %d objects", len(objs))

	m := metrics.New(prometheus.NewRegistry())
	bus := events.NewBus()
	eng := engine.New(store, bus, engine.Options{
		Eval:          cfg.Options(Version),
		Limits:        cfg.Limits,
		LockCacheSize: cfg.LockCacheSize,
		Queue: queue.Options{
			Workers:      cfg.QueueWorkers,
			MaxPerObject: cfg.QueueMaxPerObject,
		},
		Metrics: m,
	})
	m.WatchQueue(eng.Queue)

	me := gamedb.DBRef(cfg.ConsolePlayer)
	bus.Subscribe(me, &console{ansi: *ansi})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(eng.Queue.Run(ctx))
	})

	if *confFile != "" {
		g.Go(func() error {
			return ignoreCanceled(config.Watch(ctx, *confFile, func(c *config.Config) {
				if err := c.Validate(); err != nil {
					log.Printf("CONFIG: ignoring reload: %v", err)
					return
				}
				eng.SetLimits(c.Limits)
			}))
		})
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m)}
		g.Go(func() error {
			log.Printf("Metrics listening on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	log.Printf("Console acting as #%d. Ctrl+D to exit.", me)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if line == "" {
				continue
			}
			if _, err := eng.RunTopLevelCommand(ctx, me, line); err != nil {
				log.Printf("ERROR: %v", err)
			}
		}
	}

	stop()
	if err := g.Wait(); err != nil {
		log.Printf("Shutdown: %v", err)
	}
	st := eng.Queue.Stats()
	log.Printf("Shutdown complete (%d ready, %d delayed, %d waiting entries discarded)", st.Ready, st.Delayed, st.Waiting)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}
