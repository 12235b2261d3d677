package watch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"corpusd/config"
	"corpusd/internal/corpus"
	"corpusd/internal/types"
)

// Inbox watches a directory for serialized programs dropped by sibling
// fuzzer instances and admits them through the normal corpus admission
// path. Files that decode are consumed; files that don't are left in place
// for the operator to inspect.
type Inbox struct {
	dir     string
	manager *corpus.Manager
	codec   types.Codec
	logger  *zap.Logger

	watchCtx context.Context
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

type InboxParams struct {
	fx.In

	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Manager   *corpus.Manager
	Codec     types.Codec
	Logger    *zap.Logger
}

func NewInbox(p InboxParams) *Inbox {
	inboxCtx, cancel := context.WithCancel(context.Background())
	in := &Inbox{
		dir:      p.AppConfig.InboxDir,
		manager:  p.Manager,
		codec:    p.Codec,
		logger:   p.Logger,
		watchCtx: inboxCtx,
		done:     make(chan struct{}),
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if in.dir == "" {
				in.logger.Debug("no inbox directory configured, watcher disabled")
				close(in.done)
				return nil
			}
			return in.start()
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-in.done
			return nil
		},
	})
	return in
}

func (in *Inbox) start() error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(in.dir); err != nil {
		watcher.Close()
		return err
	}
	in.watcher = watcher

	// files dropped before the watch was established
	entries, err := os.ReadDir(in.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				in.admitFile(filepath.Join(in.dir, e.Name()))
			}
		}
	}

	go in.watch()
	in.logger.Info("watching inbox directory", zap.String("dir", in.dir))
	return nil
}

func (in *Inbox) watch() {
	defer close(in.done)
	defer in.watcher.Close()
	for {
		select {
		case <-in.watchCtx.Done():
			return
		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				in.admitFile(event.Name)
			}
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.logger.Error("inbox watch error", zap.Error(err))
		}
	}
}

func (in *Inbox) admitFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		in.logger.Warn("failed to read inbox file", zap.String("file", path), zap.Error(err))
		return
	}

	p, err := in.codec.Decode(data)
	if err != nil {
		// foreign file, not a corpus integrity problem
		in.logger.Warn("inbox file does not decode, leaving it alone",
			zap.String("file", path), zap.Error(err))
		return
	}

	in.manager.Add(p, types.Feedback{})
	if err := os.Remove(path); err != nil {
		in.logger.Warn("failed to remove consumed inbox file",
			zap.String("file", path), zap.Error(err))
	}
	in.logger.Debug("admitted program from inbox", zap.String("file", path))
}
