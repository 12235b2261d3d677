package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"corpusd/config"
	"corpusd/internal/corpus"
	"corpusd/internal/types"
	"corpusd/pkg/database"
	"corpusd/pkg/mq"
	"corpusd/pkg/sched"
	"corpusd/pkg/telemetry"
)

const QueueName = "corpus_checkpoint_queue"

// Service periodically exports the corpus state to a checkpoint file,
// records it in the checkpoint registry and announces it on the queue. On a
// resumed run it replays the newest registered checkpoint back into the
// corpus before fuzzing starts.
type Service struct {
	cfg           config.CheckpointConfig
	runID         string
	manager       *corpus.Manager
	db            *gorm.DB
	rabbitMQ      mq.RabbitMQ
	tracerFactory *telemetry.TracerFactory
	logger        *zap.Logger
}

type ServiceParams struct {
	fx.In

	Lc            fx.Lifecycle
	AppConfig     *config.AppConfig
	Manager       *corpus.Manager
	DB            *gorm.DB
	RabbitMQ      mq.RabbitMQ
	Scheduler     *sched.Scheduler
	TracerFactory *telemetry.TracerFactory
	Logger        *zap.Logger
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		cfg:           p.AppConfig.Checkpoint,
		runID:         p.AppConfig.RunID,
		manager:       p.Manager,
		db:            p.DB,
		rabbitMQ:      p.RabbitMQ,
		tracerFactory: p.TracerFactory,
		logger:        p.Logger,
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
				s.logger.Fatal("failed to create checkpoint directory", zap.Error(err))
			}
			if err := s.declareQueue(); err != nil {
				s.logger.Fatal("failed to declare checkpoint queue", zap.Error(err))
			}
			if s.cfg.Resume {
				if err := s.RestoreLatest(ctx); err != nil {
					// a run can always continue from an empty corpus
					s.logger.Error("failed to restore checkpoint", zap.Error(err))
				}
			}
			p.Scheduler.Every("corpus-checkpoint", s.cfg.Interval, func() {
				if err := s.Checkpoint(context.Background()); err != nil {
					s.logger.Error("checkpoint pass failed", zap.Error(err))
				}
			})
			return nil
		},
	})
	return s
}

func (s *Service) declareQueue() error {
	channel, err := s.rabbitMQ.GetChannel()
	if err != nil {
		return err
	}
	defer channel.Close()
	_, err = channel.QueueDeclare(
		QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

// Checkpoint exports the corpus once. Failures are recoverable: the run
// keeps fuzzing and the next pass tries again.
func (s *Service) Checkpoint(ctx context.Context) error {
	tracer := s.tracerFactory.NewTracer(ctx, "corpus checkpoint")
	tracer.Start()
	defer tracer.End()

	buf, err := s.manager.ExportState()
	if err != nil {
		tracer.SetStatus(codes.Error, "export failed")
		return err
	}
	samples := s.manager.Size()

	path := filepath.Join(s.cfg.Dir, uuid.New().String()+".ckpt")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		tracer.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	cp := database.NewCheckpoint(s.runID, path, samples, int64(len(buf)))
	if err := database.AddCheckpoint(ctx, s.db, cp); err != nil {
		return fmt.Errorf("failed to register checkpoint: %w", err)
	}

	if err := s.announce(ctx, path, samples); err != nil {
		s.logger.Warn("failed to announce checkpoint", zap.Error(err))
	}

	tracer.WithAttributes(
		telemetry.CheckpointSamples(samples),
		telemetry.CheckpointBytes(len(buf)),
	)
	s.logger.Info("checkpoint written",
		zap.String("path", path),
		zap.Int("samples", samples),
		zap.Int("bytes", len(buf)))
	return nil
}

func (s *Service) announce(ctx context.Context, path string, samples int) error {
	msg := types.CheckpointMessage{
		RunID:   s.runID,
		Path:    path,
		Samples: samples,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	channel, err := s.rabbitMQ.GetChannel()
	if err != nil {
		return err
	}
	defer channel.Close()
	return channel.PublishWithContext(ctx,
		"",
		QueueName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// RestoreLatest replays the newest checkpoint registered for this run.
func (s *Service) RestoreLatest(ctx context.Context) error {
	cp, err := database.LatestCheckpoint(ctx, s.db, s.runID)
	if errors.Is(err, database.ErrNoCheckpoint) {
		s.logger.Info("no checkpoint to resume from", zap.String("run_id", s.runID))
		return nil
	}
	if err != nil {
		return err
	}

	buf, err := os.ReadFile(cp.Path)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	if err := s.manager.ImportState(buf); err != nil {
		return err
	}
	s.logger.Info("resumed from checkpoint",
		zap.String("path", cp.Path),
		zap.Int("samples", s.manager.Size()))
	return nil
}
