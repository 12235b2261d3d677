package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"corpusd/config"
	"corpusd/internal/corpus"
	"corpusd/pkg/sched"
)

const statsKey = "corpus:stats:%s"

// Publisher pushes a periodic corpus snapshot into Redis so dashboards and
// the surrounding scheduler can watch the run without touching the corpus.
type Publisher struct {
	runID       string
	manager     *corpus.Manager
	redisClient *redis.Client
	logger      *zap.Logger
}

type PublisherParams struct {
	fx.In

	Lc          fx.Lifecycle
	AppConfig   *config.AppConfig
	Manager     *corpus.Manager
	RedisClient *redis.Client
	Scheduler   *sched.Scheduler
	Logger      *zap.Logger
}

func NewPublisher(p PublisherParams) *Publisher {
	pub := &Publisher{
		runID:       p.AppConfig.RunID,
		manager:     p.Manager,
		redisClient: p.RedisClient,
		logger:      p.Logger,
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Scheduler.Every("corpus-stats", p.AppConfig.StatsInterval, pub.Publish)
			return nil
		},
	})
	return pub
}

func (p *Publisher) Publish() {
	st := p.manager.Stats()
	st.RunID = p.runID

	body, err := json.Marshal(st)
	if err != nil {
		p.logger.Error("failed to marshal corpus stats", zap.Error(err))
		return
	}

	key := fmt.Sprintf(statsKey, p.runID)
	if err := p.redisClient.Set(context.Background(), key, body, 0).Err(); err != nil {
		p.logger.Warn("failed to publish corpus stats", zap.Error(err))
		return
	}
	p.logger.Debug("published corpus stats",
		zap.Int("size", st.Size),
		zap.Uint64("total_added", st.TotalAdded))
}
