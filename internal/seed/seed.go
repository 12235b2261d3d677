package seed

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"corpusd/config"
	"corpusd/internal/corpus"
	"corpusd/internal/types"
)

// Seeder produces an initial program set for an empty corpus.
type Seeder interface {
	Seed() ([]types.Program, error)
}

// Module wires the seeder chain.
var Module = fx.Options(
	fx.Provide(NewDirSeeder),
	fx.Provide(NewRandomSeeder),
	fx.Provide(NewCorpusSeeder),
)

// DirSeeder loads serialized programs left in the seeds directory by a
// previous run or an operator.
type DirSeeder struct {
	dir    string
	codec  types.Codec
	logger *zap.Logger
}

func NewDirSeeder(appConfig *config.AppConfig, codec types.Codec, logger *zap.Logger) *DirSeeder {
	base := appConfig.Corpus.StoragePath
	if base == "" {
		base = "."
	}
	return &DirSeeder{
		dir:    filepath.Join(base, "seeds"),
		codec:  codec,
		logger: logger,
	}
}

func (s *DirSeeder) Seed() ([]types.Program, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read seeds directory: %w", err)
	}

	var ps []types.Program
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read seed file", zap.String("file", path), zap.Error(err))
			continue
		}
		p, err := s.codec.Decode(data)
		if err != nil {
			s.logger.Warn("seed file does not decode, skipping",
				zap.String("file", path), zap.Error(err))
			continue
		}
		ps = append(ps, p)
	}
	if len(ps) == 0 {
		return nil, errors.New("no usable seeds on disk")
	}
	return ps, nil
}

// RandomSeeder fabricates filler programs so a run never starts with an
// empty corpus even without seeds on disk.
type RandomSeeder struct {
	count  int
	logger *zap.Logger
}

func NewRandomSeeder(logger *zap.Logger) *RandomSeeder {
	return &RandomSeeder{count: 16, logger: logger}
}

func (s *RandomSeeder) Seed() ([]types.Program, error) {
	ps := make([]types.Program, 0, s.count)
	for range s.count {
		data := make([]byte, 64)
		if _, err := rand.Read(data); err != nil {
			return nil, err
		}
		ops, err := rand.Int(rand.Reader, big.NewInt(15))
		if err != nil {
			return nil, err
		}
		ps = append(ps, &types.RawProgram{
			OpCount: int(ops.Int64()) + 1,
			Data:    data,
		})
	}
	s.logger.Info("generated random seed programs", zap.Int("count", s.count))
	return ps, nil
}

// CorpusSeeder tries each seeder in order and admits the first non-empty
// program set into an empty corpus.
type CorpusSeeder struct {
	seeders []Seeder
	manager *corpus.Manager
	logger  *zap.Logger
}

type CorpusSeederParams struct {
	fx.In

	Manager      *corpus.Manager
	DirSeeder    *DirSeeder
	RandomSeeder *RandomSeeder
	Logger       *zap.Logger
}

func NewCorpusSeeder(p CorpusSeederParams) *CorpusSeeder {
	return &CorpusSeeder{
		seeders: []Seeder{
			p.DirSeeder,
			p.RandomSeeder,
		},
		manager: p.Manager,
		logger:  p.Logger,
	}
}

// Run seeds the corpus if it is empty. Called once at startup, before the
// mutation engine begins sampling.
func (c *CorpusSeeder) Run() error {
	if !c.manager.IsEmpty() {
		c.logger.Debug("corpus already populated, skipping seeding",
			zap.Int("size", c.manager.Size()))
		return nil
	}

	for _, seeder := range c.seeders {
		ps, err := seeder.Seed()
		if err != nil {
			c.logger.Warn("seeder produced nothing", zap.Error(err))
			continue
		}
		for _, p := range ps {
			c.manager.Add(p, types.Feedback{})
		}
		c.logger.Info("seeded corpus", zap.Int("samples", c.manager.Size()))
		return nil
	}
	return errors.New("no seeder could populate the corpus")
}
