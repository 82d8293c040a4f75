package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dfsio/parfs/internal/logger"
	"github.com/dfsio/parfs/pkg/collective"
	"github.com/dfsio/parfs/pkg/collective/local"
	"github.com/dfsio/parfs/pkg/config"
	"github.com/dfsio/parfs/pkg/dfs"
	"github.com/dfsio/parfs/pkg/engine"
	"github.com/dfsio/parfs/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	initConfig := flag.String("init-config", "", "Write a default configuration file to the given path and exit")
	flag.Parse()

	if *initConfig != "" {
		if err := config.Init(*initConfig); err != nil {
			log.Fatalf("Failed to initialize configuration: %v", err)
		}
		fmt.Printf("Wrote default configuration to %s\n", *initConfig)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)

	if *printConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			log.Fatalf("Failed to render configuration: %v", err)
		}
		fmt.Print(out)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		srv := metrics.NewServer(cfg.Metrics.Listen)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Metrics server: %v", err)
			}
		}()
	}
	sessionMetrics := metrics.NewSessionMetrics()

	eng, err := config.CreateEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create %s engine: %v", cfg.Engine.Type, err)
	}

	comms, err := local.NewGroup(cfg.Bench.Workers)
	if err != nil {
		log.Fatalf("Failed to create worker group: %v", err)
	}

	logger.Info("Starting benchmark: engine=%s workers=%d file=%s block_size=%d per_process_file=%v",
		cfg.Engine.Type, cfg.Bench.Workers, cfg.Bench.File, cfg.Bench.BlockSize, cfg.Bench.PerProcessFile)

	errs := make([]error, cfg.Bench.Workers)
	start := time.Now()

	var wg sync.WaitGroup
	for i, comm := range comms {
		wg.Add(1)
		go func(rank int, comm collective.Comm) {
			defer wg.Done()
			errs[rank] = runWorker(ctx, cfg, comm, eng, sessionMetrics)
		}(i, comm)
	}
	wg.Wait()

	failed := false
	for rank, err := range errs {
		if err != nil {
			logger.Error("Worker %d failed: %v", rank, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}

	total := int64(cfg.Bench.BlockSize) * int64(cfg.Bench.Workers)
	elapsed := time.Since(start)
	logger.Info("Benchmark completed: %d bytes written and read back in %s", total, elapsed)
}

// runWorker drives one member of the collective group through a full
// benchmark pass: establish the session, write a block, settle, verify the
// aggregate size, read the block back, clean up, and tear down.
func runWorker(ctx context.Context, cfg *config.Config, comm collective.Comm, eng engine.Engine, m dfs.Metrics) error {
	backend := dfs.NewBackend()
	if err := backend.Initialize(ctx, cfg.DFSConfig(), comm, eng, dfs.WithMetrics(m)); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	rank := comm.Rank()
	sess := backend.Session()

	// The coordinator prepares the parent directory; peers wait for it.
	rp, err := dfs.Resolve(cfg.Bench.File)
	if err != nil {
		return err
	}
	if sess.Role() == dfs.RoleCoordinator && rp.Parent != "/" {
		if err := backend.Mkdir(ctx, rp.Parent, 0o755); err != nil && !engine.IsAlreadyExists(err) {
			return fmt.Errorf("mkdir %q: %w", rp.Parent, err)
		}
	}
	if err := comm.Barrier(ctx); err != nil {
		return fmt.Errorf("barrier after mkdir: %w", err)
	}

	target := cfg.Bench.File
	offset := int64(0)
	if cfg.Bench.PerProcessFile {
		target = fmt.Sprintf("%s.%08d", target, rank)
	} else {
		// Each worker owns a disjoint segment of the shared file.
		offset = int64(rank) * int64(cfg.Bench.BlockSize)
	}
	params := dfs.FileParams{Mode: 0o644, PerProcessFile: cfg.Bench.PerProcessFile}

	block := make([]byte, cfg.Bench.BlockSize)
	for i := range block {
		block[i] = byte(rank + i)
	}

	// Write phase.
	obj, err := backend.Create(ctx, target, params)
	if err != nil {
		return fmt.Errorf("create %q: %w", target, err)
	}
	writeStart := time.Now()
	if _, err := backend.Xfer(ctx, obj, dfs.TransferRequest{
		Direction: dfs.DirectionWrite,
		Buffer:    block,
		Offset:    offset,
	}); err != nil {
		return fmt.Errorf("write %q: %w", target, err)
	}
	if err := backend.Fsync(ctx); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := backend.Close(ctx, obj); err != nil {
		return fmt.Errorf("close after write: %w", err)
	}
	logger.Debug("Worker %d wrote %d bytes at offset %d in %s",
		rank, len(block), offset, time.Since(writeStart))

	// Everyone's bytes must be down before anyone measures or reads.
	if err := comm.Barrier(ctx); err != nil {
		return fmt.Errorf("barrier after write: %w", err)
	}

	size, err := backend.GetFileSize(ctx, target, cfg.Bench.PerProcessFile)
	if err != nil {
		return fmt.Errorf("get file size: %w", err)
	}
	expected := int64(cfg.Bench.BlockSize) * int64(comm.Size())
	if size != expected {
		logger.Warn("Aggregate size %d differs from expected %d", size, expected)
	}

	// Read-back phase.
	if err := backend.Access(ctx, target); err != nil {
		return fmt.Errorf("access %q: %w", target, err)
	}
	obj, err = backend.Open(ctx, target, params)
	if err != nil {
		return fmt.Errorf("open %q: %w", target, err)
	}
	readBuf := make([]byte, cfg.Bench.BlockSize)
	readStart := time.Now()
	if _, err := backend.Xfer(ctx, obj, dfs.TransferRequest{
		Direction: dfs.DirectionRead,
		Buffer:    readBuf,
		Offset:    offset,
	}); err != nil {
		return fmt.Errorf("read %q: %w", target, err)
	}
	if err := backend.Close(ctx, obj); err != nil {
		return fmt.Errorf("close after read: %w", err)
	}
	if !bytes.Equal(readBuf, block) {
		return fmt.Errorf("read-back mismatch for %q at offset %d", target, offset)
	}
	logger.Debug("Worker %d read %d bytes at offset %d in %s",
		rank, len(readBuf), offset, time.Since(readStart))

	// Cleanup: per-process files are each owner's to delete, the shared
	// file is the coordinator's.
	if err := comm.Barrier(ctx); err != nil {
		return fmt.Errorf("barrier before cleanup: %w", err)
	}
	if cfg.Bench.PerProcessFile {
		if err := backend.Delete(ctx, target); err != nil {
			return fmt.Errorf("delete %q: %w", target, err)
		}
	} else if sess.Role() == dfs.RoleCoordinator {
		if err := backend.Delete(ctx, target); err != nil {
			return fmt.Errorf("delete %q: %w", target, err)
		}
	}

	if err := backend.Finalize(ctx); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}
