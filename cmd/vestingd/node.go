package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tokenvesting/config"
	"tokenvesting/core/events"
	"tokenvesting/core/state"
	"tokenvesting/native/custody"
	"tokenvesting/native/vesting"
	"tokenvesting/rpc"
	"tokenvesting/storage"
)

// node owns the storage backend and every component wired on top of it.
type node struct {
	db     storage.Database
	engine *vesting.Engine
	server *rpc.Server
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendLevelDB:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.OpenSQLite(filepath.Join(cfg.DataDir, "ledger.db"))
	case config.BackendPostgres:
		return storage.OpenPostgres(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

func newNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StorageBackend, err)
	}

	st := state.NewManager(db)
	ledger := custody.NewLedger(cfg.Namespace)
	custodySvc := custody.NewService(st, ledger, logger)
	engine := vesting.NewEngine(st, ledger)
	engine.SetLogger(logger)

	recorder := events.NewRecorder(cfg.EventHistory)
	hub := events.NewHub()
	fanout := events.Fanout{recorder, hub}
	custodySvc.SetEmitter(fanout)
	engine.SetEmitter(fanout)

	server, err := rpc.New(rpc.Config{
		Engine:       engine,
		Custody:      custodySvc,
		Recorder:     recorder,
		Hub:          hub,
		Logger:       logger,
		MaxClockSkew: time.Duration(cfg.MaxClockSkewSeconds) * time.Second,
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
		},
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &node{db: db, engine: engine, server: server}, nil
}

func (n *node) Handler() http.Handler { return n.server.Handler() }

func (n *node) Close() error { return n.db.Close() }
