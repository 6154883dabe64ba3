package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	minirel "github.com/tdnguyen/minirel"
	"github.com/tdnguyen/minirel/internal"
	"github.com/tdnguyen/minirel/internal/hash"
)

// Manual smoke run: exercise the heap file and hash index end to end
// against a real database and print what happened.
func main() {
	cfgPath := flag.String("config", "config.yaml", "engine config file")
	flag.Parse()

	cfg, err := internal.LoadConfig(*cfgPath)
	if err != nil {
		slog.Warn("config not loaded, using defaults", "path", *cfgPath, "err", err)
		cfg = &internal.EngineConfig{}
		cfg.Storage.File = "minirel.db"
		cfg.Storage.PoolSize = 128
		cfg.Logging.Level = "info"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(cfg); err != nil {
		slog.Error("smoke run failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *internal.EngineConfig) error {
	var (
		db  *minirel.DB
		err error
	)
	if cfg.Storage.InMemory {
		db, err = minirel.OpenInMemory(cfg.Storage.PoolSize)
	} else {
		db, err = minirel.Open(cfg.Storage.File, cfg.Storage.PoolSize)
	}
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	hf, err := db.OpenHeap("smoke_records")
	if err != nil {
		return err
	}
	defer func() { _ = hf.Close() }()

	idx, err := db.OpenIndex("smoke_index")
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	for i := 1; i <= 50; i++ {
		rid, err := hf.Insert(fmt.Appendf(nil, "record-%03d", i))
		if err != nil {
			return err
		}
		if err := idx.Insert(hash.IntKey(i%8), rid); err != nil {
			return err
		}
	}

	n, err := hf.Count()
	if err != nil {
		return err
	}
	fmt.Printf("heap records: %d\n", n)

	scan, err := idx.OpenScan(hash.IntKey(3))
	if err != nil {
		return err
	}
	matches := 0
	for {
		rid, ok, err := scan.Next()
		if err != nil {
			_ = scan.Close()
			return err
		}
		if !ok {
			break
		}
		rec, err := hf.Select(rid)
		if err != nil {
			_ = scan.Close()
			return err
		}
		fmt.Printf("  key=3 -> %s\n", rec)
		matches++
	}
	if err := scan.Close(); err != nil {
		return err
	}
	fmt.Printf("index matches for key 3: %d\n", matches)

	fmt.Println("bucket summary:")
	if err := idx.Summary(os.Stdout); err != nil {
		return err
	}

	fmt.Printf("pool: %d frames, %d unpinned, %d pages allocated since open\n",
		db.Pool().NumFrames(), db.Pool().NumUnpinned(), db.Disk().AllocCount())
	return db.FlushAll()
}
