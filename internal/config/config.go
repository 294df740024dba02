package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"tracksession-go/internal/types"
)

type AppConfig struct {
	Port     int      `yaml:"port"`
	Endpoint string   `yaml:"endpoint"`
	Streams  []string `yaml:"streams"`
	// Frames bounds the number of update passes; 0 runs until interrupted.
	Frames int           `yaml:"frames"`
	Tick   time.Duration `yaml:"tick"`

	Debug          bool          `yaml:"debug"`
	DebugRate      float64       `yaml:"debug_rate"`
	DebugRows      int           `yaml:"debug_rows"`
	DebugCols      int           `yaml:"debug_cols"`
	DebugUsers     int           `yaml:"debug_users"`
	UIRate         time.Duration `yaml:"ui_rate"`
	OutputDir      string        `yaml:"output_dir"`
	RawLogEnabled  bool          `yaml:"raw_log"`
	RawLogDir      string        `yaml:"raw_log_dir"`
	IngestLogEvery int           `yaml:"ingest_log_every"`
	IngestFallback bool          `yaml:"ingest_fallback"`
	IngestWait     time.Duration `yaml:"ingest_wait"`
	Realtime       bool          `yaml:"realtime"`
}

func Default() AppConfig {
	return AppConfig{
		Port:           8888,
		Endpoint:       "tcp://localhost:31001",
		Streams:        []string{"depth", "skeleton", "hands", "gesture"},
		Tick:           33 * time.Millisecond,
		DebugRate:      30,
		DebugRows:      240,
		DebugCols:      320,
		DebugUsers:     1,
		UIRate:         time.Second,
		OutputDir:      "output",
		RawLogDir:      "rawlog",
		IngestLogEvery: 100,
		IngestFallback: true,
		IngestWait:     2 * time.Second,
	}
}

// Load reads a YAML file over the defaults. An empty path yields the
// defaults unchanged.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if _, err := cfg.StreamKinds(); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// StreamKinds resolves Streams in polling order with duplicates removed.
func (c AppConfig) StreamKinds() ([]types.StreamKind, error) {
	var want [len(types.StreamOrder)]bool
	for _, name := range c.Streams {
		kind, err := types.ParseStreamKind(name)
		if err != nil {
			return nil, err
		}
		want[kind] = true
	}
	kinds := make([]types.StreamKind, 0, len(c.Streams))
	for _, kind := range types.StreamOrder {
		if want[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

// Watch calls onChange after path has been written, created or replaced.
// Bursts of events are coalesced. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config watch: %v", err)
		case <-pending:
			pending = nil
			onChange()
		}
	}
}

const debounce = 50 * time.Millisecond
