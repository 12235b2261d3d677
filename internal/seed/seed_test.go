package seed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"corpusd/config"
	"corpusd/internal/corpus"
	"corpusd/internal/types"
)

func newTestManager(t *testing.T) *corpus.Manager {
	t.Helper()
	backend, err := corpus.NewDiskBackend(t.TempDir(), 64, zap.NewNop())
	require.NoError(t, err)
	m, err := corpus.New(corpus.Config{MinSize: 1, MaxSize: 64, MinMutationsPerSample: 5},
		backend, types.NewRawCodec(), types.NewNopPreparer(), zap.NewNop())
	require.NoError(t, err)
	return m
}

func writeSeedFile(t *testing.T, dir, name string, p *types.RawProgram) {
	t.Helper()
	data, err := types.NewRawCodec().Encode(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestDirSeederLoadsSeeds(t *testing.T) {
	base := t.TempDir()
	seedDir := filepath.Join(base, "seeds")
	require.NoError(t, os.MkdirAll(seedDir, 0o755))
	writeSeedFile(t, seedDir, "a.seed", &types.RawProgram{ID: "a", OpCount: 3, Data: []byte("one")})
	writeSeedFile(t, seedDir, "b.seed", &types.RawProgram{ID: "b", OpCount: 5, Data: []byte("two")})
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "junk"), []byte{0xff}, 0o644))

	cfg := &config.AppConfig{Corpus: config.CorpusConfig{StoragePath: base}}
	s := NewDirSeeder(cfg, types.NewRawCodec(), zap.NewNop())

	ps, err := s.Seed()
	require.NoError(t, err)
	assert.Len(t, ps, 2)
}

func TestDirSeederFailsWithoutUsableSeeds(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "seeds"), 0o755))

	cfg := &config.AppConfig{Corpus: config.CorpusConfig{StoragePath: base}}
	s := NewDirSeeder(cfg, types.NewRawCodec(), zap.NewNop())

	_, err := s.Seed()
	assert.Error(t, err)
}

func TestRandomSeederProducesUsablePrograms(t *testing.T) {
	s := NewRandomSeeder(zap.NewNop())

	ps, err := s.Seed()
	require.NoError(t, err)
	require.Len(t, ps, 16)
	for _, p := range ps {
		assert.Greater(t, p.Size(), 0)
	}
}

func TestCorpusSeederFallsBackToRandom(t *testing.T) {
	m := newTestManager(t)
	c := &CorpusSeeder{
		seeders: []Seeder{
			NewDirSeeder(&config.AppConfig{Corpus: config.CorpusConfig{StoragePath: t.TempDir()}},
				types.NewRawCodec(), zap.NewNop()),
			NewRandomSeeder(zap.NewNop()),
		},
		manager: m,
		logger:  zap.NewNop(),
	}

	require.NoError(t, c.Run())
	assert.Equal(t, 16, m.Size())
}

func TestCorpusSeederSkipsPopulatedCorpus(t *testing.T) {
	m := newTestManager(t)
	m.Add(&types.RawProgram{ID: "existing", OpCount: 2, Data: []byte("x")}, types.Feedback{})

	c := &CorpusSeeder{
		seeders: []Seeder{NewRandomSeeder(zap.NewNop())},
		manager: m,
		logger:  zap.NewNop(),
	}

	require.NoError(t, c.Run())
	assert.Equal(t, 1, m.Size())
}
