package corpus

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"corpusd/config"
	"corpusd/internal/types"
	"corpusd/pkg/sched"
	"corpusd/pkg/telemetry"
)

// Module wires the corpus manager and whichever backend the deployment
// selected, plus the default codec and preparer. A surrounding fuzzer that
// brings its own program encoding replaces the codec/preparer providers.
var Module = fx.Options(
	fx.Provide(NewBackend),
	fx.Provide(NewCodec),
	fx.Provide(NewPreparer),
	fx.Provide(NewManager),
)

func NewCodec() types.Codec {
	return types.NewRawCodec()
}

func NewPreparer() types.Preparer {
	return types.NewNopPreparer()
}

type BackendParams struct {
	fx.In

	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Logger    *zap.Logger
}

// NewBackend constructs the configured storage backend. Backend choice is a
// deployment-time decision; everything above this provider sees only the
// Backend interface.
func NewBackend(p BackendParams) (Backend, error) {
	cfg := p.AppConfig.Corpus
	switch cfg.Backend {
	case "disk":
		dir := DefaultStorageSubdir
		if cfg.StoragePath != "" {
			dir = filepath.Join(cfg.StoragePath, DefaultStorageSubdir)
		}
		return NewDiskBackend(dir, cfg.MaxSize, p.Logger)

	case "engine":
		backend, err := NewEngineBackend(EngineConfig{
			ChannelPath: cfg.EngineChannel,
			StoragePath: cfg.StoragePath,
			Scheduler:   cfg.SchedulerType,
			SlotCount:   uint32(cfg.MaxSize),
			SlotSize:    uint32(cfg.EngineSlotSize),
		}, p.Logger)
		if err != nil {
			return nil, err
		}
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return backend.Close()
			},
		})
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown corpus backend %q", cfg.Backend)
	}
}

type ManagerParams struct {
	fx.In

	Lc            fx.Lifecycle
	AppConfig     *config.AppConfig
	Backend       Backend
	Codec         types.Codec
	Preparer      types.Preparer
	Scheduler     *sched.Scheduler
	TracerFactory *telemetry.TracerFactory
	Logger        *zap.Logger
}

func NewManager(p ManagerParams) (*Manager, error) {
	cfg := p.AppConfig.Corpus
	m, err := New(Config{
		MinSize:               cfg.MinSize,
		MaxSize:               cfg.MaxSize,
		MinMutationsPerSample: uint32(cfg.MinMutationsPerSample),
		StaticCorpus:          cfg.StaticCorpus,
		CleanupInterval:       cfg.CleanupInterval,
	}, p.Backend, p.Codec, p.Preparer, p.Logger)
	if err != nil {
		return nil, err
	}
	m.EnableTracing(p.TracerFactory)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			m.Start(p.Scheduler)
			return nil
		},
	})
	return m, nil
}
