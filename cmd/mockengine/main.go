package main

// mock the external feedback-directed engine: attach to a corpus channel and
// keep publishing next-pick suggestions, so corpusd can be exercised without
// a real engine process.

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"corpusd/internal/shm"
)

// scheduling strategies understood by the mock
const (
	scheduleUniform  = 0 // uniform random over live samples
	scheduleSmallest = 1 // favor the smallest serialized sample
	scheduleFastest  = 2 // favor the cheapest execution time
)

var (
	channelPath = flag.String("channel", "", "path to the corpus shared-memory channel")
	interval    = flag.Duration("interval", 100*time.Millisecond, "how often to publish a suggestion")
)

func main() {
	flag.Parse()
	if *channelPath == "" {
		fmt.Fprintln(os.Stderr, "usage: mockengine -channel <path>")
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	channel, err := waitForChannel(*channelPath, logger)
	if err != nil {
		logger.Fatal("failed to attach to channel", zap.Error(err))
	}
	defer channel.Close()

	logger.Info("attached to corpus channel",
		zap.String("path", *channelPath),
		zap.Uint32("scheduler", channel.Scheduler()),
		zap.Uint32("slots", channel.SlotCount()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-sigChan:
			logger.Info("shutting down")
			return
		case <-ticker.C:
			suggest(channel, logger)
		}
	}
}

func waitForChannel(path string, logger *zap.Logger) (*shm.Channel, error) {
	for i := 0; ; i++ {
		channel, err := shm.Open(path)
		if err == nil {
			return channel, nil
		}
		if i >= 50 {
			return nil, err
		}
		logger.Debug("channel not ready yet, retrying", zap.Error(err))
		time.Sleep(200 * time.Millisecond)
	}
}

// suggest scores the live samples with the strategy recorded in the channel
// header and publishes the winner through the cursor.
func suggest(channel *shm.Channel, logger *zap.Logger) {
	tail, head := channel.Tail(), channel.Head()
	if head == tail {
		return
	}

	best := tail + uint64(rand.Intn(int(head-tail)))
	if channel.Scheduler() != scheduleUniform {
		bestScore := int64(-1)
		for idx := tail; idx < head; idx++ {
			data, fb, err := channel.ReadSlot(idx)
			if err != nil {
				continue
			}
			var score int64
			switch channel.Scheduler() {
			case scheduleSmallest:
				score = int64(len(data))
			case scheduleFastest:
				score = int64(fb.ExecTimeMS)
			}
			if bestScore < 0 || score < bestScore {
				bestScore = score
				best = idx
			}
		}
	}

	channel.SetCursor(best)
	logger.Debug("published suggestion",
		zap.Uint64("index", best),
		zap.Uint64("live", head-tail))
}
