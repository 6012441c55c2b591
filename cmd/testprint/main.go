package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/testprint/internal/config"
	"github.com/dfryer1193/testprint/internal/logging"
	"github.com/dfryer1193/testprint/internal/metrics"
	"github.com/dfryer1193/testprint/library/application"
	"github.com/dfryer1193/testprint/library/persistence"
	"github.com/dfryer1193/testprint/shared/db/sqlite"
	"github.com/dfryer1193/testprint/shared/imageproc"
	"github.com/dfryer1193/testprint/shared/pdfdoc"
)

var (
	configPath  = flag.String("config", "", "path to a YAML config file")
	metricsFile = flag.String("metrics-file", "", "write counters to this file in Prometheus text format on exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: testprint [options] <command> [arguments]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
}

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func run() error {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		return fmt.Errorf("no command given")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	a, closeStore, err := newApp(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("Failed to close record store")
		}
	}()

	runErr := a.dispatch(ctx, flag.Arg(0), flag.Args()[1:])

	if *metricsFile != "" {
		if err := m.WriteToFile(*metricsFile); err != nil {
			log.Error().Err(err).Msg("Failed to write metrics")
		}
	}
	return runErr
}

// newApp wires the store selected by cfg into a LibraryService. The returned
// func releases the store.
func newApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*app, func() error, error) {
	slot, closeSlot, err := openSlot(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	store := persistence.NewRecordStore(slot, m)
	normalizer := imageproc.NewNormalizer(imageproc.Options{
		MaxLongEdge:     cfg.Images.MaxLongEdge,
		Quality:         cfg.Images.JPEGQuality,
		MaxSourcePixels: cfg.Images.MaxSourcePixels,
	})
	assembler := pdfdoc.NewAssembler(cfg.Document.MarginMM, cfg.Document.AllowUpscale)

	cacheSize := cfg.Cache.Size
	if cacheSize == 0 {
		cacheSize = -1
	}
	svc := application.NewLibraryService(store, normalizer, assembler, m, application.Config{
		Concurrency: cfg.Images.Concurrency,
		CacheSize:   cacheSize,
		CacheTTL:    cfg.Cache.TTL,
	})

	return &app{svc: svc, slot: slot, out: os.Stdout, outputDir: cfg.Document.OutputDir}, closeSlot, nil
}

func openSlot(ctx context.Context, cfg config.StoreConfig) (persistence.Slot, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendFile:
		slot, err := persistence.NewFileSlot(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return slot, noop, nil

	case config.BackendSQLite:
		database := sqlite.NewSQLiteDB(&sqlite.SQLiteConfig{Path: cfg.Path})
		if err := database.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return persistence.NewSQLiteSlot(database.DB(), cfg.Slot), database.Close, nil

	case config.BackendBolt:
		slot, err := persistence.OpenBoltSlot(cfg.Path, cfg.Slot)
		if err != nil {
			return nil, nil, err
		}
		return slot, slot.Close, nil

	case config.BackendMemory:
		log.Warn().Msg("Using the memory store, nothing will be kept after exit")
		return persistence.NewMemorySlot(), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
