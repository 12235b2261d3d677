package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	DatabaseURL string
	RabbitMQURL string
	RedisURL    string
	LogLevel    string
	ServiceName string
	RunID       string

	Corpus     CorpusConfig
	Checkpoint CheckpointConfig

	// InboxDir is watched for serialized programs dropped by sibling fuzzer
	// instances; empty disables the watcher.
	InboxDir string

	StatsInterval time.Duration
}

type CorpusConfig struct {
	MinSize               int
	MaxSize               int
	MinMutationsPerSample int
	StaticCorpus          bool
	CleanupInterval       time.Duration

	// Backend picks the storage backend: "disk" or "engine".
	Backend string

	// StoragePath is the base directory for stored samples; empty means the
	// conventional subdirectory of the working directory.
	StoragePath string

	// EngineChannel identifies the shared-memory channel to the external
	// engine. The launcher supplies a value unique per fuzzer process; when
	// unset one is derived from this process's id.
	EngineChannel string

	// SchedulerType selects the engine's internal prioritization strategy.
	SchedulerType int

	EngineSlotSize int
}

type CheckpointConfig struct {
	Interval time.Duration
	Dir      string
	Resume   bool
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := &AppConfig{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		ServiceName: os.Getenv("SERVICE_NAME"),
		RunID:       os.Getenv("RUN_ID"),
		Corpus: CorpusConfig{
			MinSize:               parseInt(os.Getenv("CORPUS_MIN_SIZE"), 16),
			MaxSize:               parseInt(os.Getenv("CORPUS_MAX_SIZE"), 4096),
			MinMutationsPerSample: parseInt(os.Getenv("CORPUS_MIN_MUTATIONS"), 25),
			StaticCorpus:          parseBool(os.Getenv("CORPUS_STATIC"), false),
			CleanupInterval:       parseDuration(os.Getenv("CORPUS_CLEANUP_INTERVAL"), 30*time.Minute),
			Backend:               os.Getenv("CORPUS_BACKEND"),
			StoragePath:           os.Getenv("CORPUS_STORAGE_PATH"),
			EngineChannel:         os.Getenv("ENGINE_CHANNEL"),
			SchedulerType:         parseInt(os.Getenv("ENGINE_SCHEDULER_TYPE"), 0),
			EngineSlotSize:        parseInt(os.Getenv("ENGINE_SLOT_SIZE"), 65536),
		},
		Checkpoint: CheckpointConfig{
			Interval: parseDuration(os.Getenv("CHECKPOINT_INTERVAL"), 15*time.Minute),
			Dir:      os.Getenv("CHECKPOINT_DIR"),
			Resume:   parseBool(os.Getenv("CHECKPOINT_RESUME"), false),
		},
		InboxDir:      os.Getenv("INBOX_DIR"),
		StatsInterval: parseDuration(os.Getenv("STATS_INTERVAL"), time.Minute),
	}

	if tuning := os.Getenv("CORPUS_TUNING"); tuning != "" {
		if err := loadTuning(tuning, &config.Corpus); err != nil {
			logger.Fatal("failed to load corpus tuning file", zap.Error(err))
		}
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "corpusd" // Default service name
	}
	if config.RunID == "" {
		hostname, _ := os.Hostname()
		config.RunID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	if config.Corpus.Backend == "" {
		config.Corpus.Backend = "disk"
	}
	if config.Corpus.EngineChannel == "" {
		// unique per fuzzer process instance
		config.Corpus.EngineChannel = fmt.Sprintf("/dev/shm/corpusd-%d", os.Getpid())
	}
	if config.Checkpoint.Dir == "" {
		config.Checkpoint.Dir = "checkpoints"
	}

	if config.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}
	if config.RabbitMQURL == "" {
		logger.Fatal("RABBITMQ_URL environment variable is required")
	}
	if config.RedisURL == "" {
		logger.Fatal("REDIS_URL environment variable is required")
	}

	return config
}

// loadTuning overlays the corpus knobs from an optional YAML file. Only keys
// present in the file override the environment values. Durations are written
// the natural way ("5m", "1h30m").
func loadTuning(path string, corpus *CorpusConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var t struct {
		MinSize               *int    `yaml:"min_size"`
		MaxSize               *int    `yaml:"max_size"`
		MinMutationsPerSample *int    `yaml:"min_mutations_per_sample"`
		StaticCorpus          *bool   `yaml:"static_corpus"`
		CleanupInterval       *string `yaml:"cleanup_interval"`
		Backend               *string `yaml:"backend"`
		StoragePath           *string `yaml:"storage_path"`
		EngineChannel         *string `yaml:"engine_channel"`
		SchedulerType         *int    `yaml:"scheduler_type"`
		EngineSlotSize        *int    `yaml:"engine_slot_size"`
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return err
	}

	if t.MinSize != nil {
		corpus.MinSize = *t.MinSize
	}
	if t.MaxSize != nil {
		corpus.MaxSize = *t.MaxSize
	}
	if t.MinMutationsPerSample != nil {
		corpus.MinMutationsPerSample = *t.MinMutationsPerSample
	}
	if t.StaticCorpus != nil {
		corpus.StaticCorpus = *t.StaticCorpus
	}
	if t.CleanupInterval != nil {
		d, err := time.ParseDuration(*t.CleanupInterval)
		if err != nil {
			return fmt.Errorf("invalid cleanup_interval %q: %w", *t.CleanupInterval, err)
		}
		corpus.CleanupInterval = d
	}
	if t.Backend != nil {
		corpus.Backend = *t.Backend
	}
	if t.StoragePath != nil {
		corpus.StoragePath = *t.StoragePath
	}
	if t.EngineChannel != nil {
		corpus.EngineChannel = *t.EngineChannel
	}
	if t.SchedulerType != nil {
		corpus.SchedulerType = *t.SchedulerType
	}
	if t.EngineSlotSize != nil {
		corpus.EngineSlotSize = *t.EngineSlotSize
	}
	return nil
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
