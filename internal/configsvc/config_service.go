// Package configsvc loads YAML configuration files and notifies subscribers when they change on disk.
package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
	"go.uber.org/zap"
)

const DefaultDebounce = 100 * time.Millisecond

type subscriber func(event fsnotify.Event)

type Service struct {
	log      *zap.Logger
	debounce time.Duration

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	subscribers []subscriber
	ready       chan struct{}
}

type Option func(*Service)

func WithDebounce(d time.Duration) Option {
	return func(s *Service) {
		s.debounce = d
	}
}

func New(log *zap.Logger, opts ...Option) *Service {
	svc := &Service{
		log:      log,
		debounce: DefaultDebounce,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()
	close(s.ready)
	s.log.Info("Config service started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.mu.Lock()
			subs := s.subscribers
			s.mu.Unlock()
			for _, sub := range subs {
				sub(event)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Watcher error", zap.Error(err))
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Register watches path and calls fn with the re-read configuration after every write, with
// bursts of events collapsed into one call. The service must be ready.
// Service instance is used as a parameter instead of the method receiver to enable generic types.
func Register[T any](s *Service, path string, def T, fn func(config T, err error)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}
	select {
	case <-s.ready:
	default:
		return fmt.Errorf("config service is not started")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.watcher.Add(filepath.Dir(absPath))
	if err != nil {
		return fmt.Errorf("failed to add path to watcher %s: %w", path, err)
	}

	var timerMu sync.Mutex
	var timer *time.Timer
	s.subscribers = append(s.subscribers, func(event fsnotify.Event) {
		if event.Name != absPath || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
			return
		}
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.debounce, func() {
			newConfig, err := readConfig(absPath, def)
			fn(newConfig, err)
		})
	})
	return nil
}

// Load reads path into a copy of def. A missing file is created from def.
func Load[T any](path string, def T) (T, error) {
	config, err := readConfig(path, def)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = writeConfig(path, def)
		if err != nil {
			return def, fmt.Errorf("failed to initialize config: %w", err)
		}
		return def, nil
	case err != nil:
		return def, fmt.Errorf("failed to read config: %w", err)
	}
	return config, nil
}

func writeConfig[T any](path string, config T) error {
	jsonB, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	yamlB, err := yaml.JSONToYAML(jsonB)
	if err != nil {
		return fmt.Errorf("failed to convert json to yaml: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	err = os.WriteFile(path, yamlB, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func readConfig[T any](path string, def T) (T, error) {
	yamlB, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("failed to read config file: %w", err)
	}

	jsonB, err := yaml.YAMLToJSON(yamlB)
	if err != nil {
		return def, fmt.Errorf("failed to convert yaml to json: %w", err)
	}
	err = json.Unmarshal(jsonB, &def)
	if err != nil {
		return def, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return def, nil
}
