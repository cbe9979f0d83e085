// Package settings exposes user preferences read from the config file and
// reloads them when the file changes on disk.
package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

const defaultDebounce = 500 * time.Millisecond

// FileProvider serves preferences from a YAML config file.
type FileProvider struct {
	path     string
	logger   *log.Logger
	debounce time.Duration

	showNearField atomic.Bool

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	onChange func(types.AppConfig)
}

// NewFileProvider seeds the provider from cfg. Call Watch to follow edits.
func NewFileProvider(path string, cfg types.AppConfig, logger *log.Logger) *FileProvider {
	p := &FileProvider{
		path:     path,
		logger:   tool.LoggerOr(logger, "[Settings]"),
		debounce: defaultDebounce,
	}
	p.showNearField.Store(cfg.ShowNfcDuringSwap)
	return p
}

// ShowNearFieldDuringSwap reports whether the near-field step is shown.
func (p *FileProvider) ShowNearFieldDuringSwap() bool {
	return p.showNearField.Load()
}

// OnChange registers fn to run after every successful reload.
func (p *FileProvider) OnChange(fn func(types.AppConfig)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Reload rereads the config file.
func (p *FileProvider) Reload() error {
	cfg, err := tool.ReadConfig(p.path)
	if err != nil {
		return err
	}
	prev := p.showNearField.Swap(cfg.ShowNfcDuringSwap)
	if prev != cfg.ShowNfcDuringSwap {
		p.logger.Infof("show_nfc_during_swap changed to %v", cfg.ShowNfcDuringSwap)
	}
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn(cfg)
	}
	return nil
}

// Watch follows the directory holding the config file until ctx is done or
// Close is called. Editors replace files by rename, so the directory is
// watched rather than the file.
func (p *FileProvider) Watch(ctx context.Context) error {
	absPath, err := filepath.Abs(p.path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.stopChan = make(chan struct{})
	stop := p.stopChan
	p.mu.Unlock()

	go p.watchLoop(ctx, watcher, filepath.Base(absPath), stop)
	p.logger.Debugf("Watching %s", absPath)
	return nil
}

func (p *FileProvider) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, name string, stop chan struct{}) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(p.debounce, func() {
				if err := p.Reload(); err != nil {
					p.logger.Warnf("Failed to reload settings: %v", err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Errorf("Config watcher error: %v", err)
		}
	}
}

// Close stops watching.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher == nil {
		return nil
	}
	close(p.stopChan)
	err := p.watcher.Close()
	p.watcher = nil
	return err
}
