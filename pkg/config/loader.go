package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"

	"github.com/nestorlabs/nestor/pkg/logger"
)

// envVarPattern matches ${VAR} and ${VAR:-default} references in raw config
// bytes before parsing.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// searchPaths are tried in order when no explicit config path is given.
var searchPaths = []string{
	"backend/config/config.yaml",
	"config/config.yaml",
}

// envPrefix namespaces environment overrides: NESTOR_MEMORY__MAX_MEMORIES
// becomes memory.max_memories.
const envPrefix = "NESTOR_"

// Loader loads the YAML config, layers environment overrides, and watches
// the file for hot reload.
type Loader struct {
	mu       sync.RWMutex
	path     string
	current  *Config
	raw      map[string]interface{}
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	done     chan struct{}
}

// NewLoader creates a loader for the given path. An empty path walks the
// default search locations; when nothing is found the zero config (all
// defaults) is used.
func NewLoader(path string) *Loader {
	return &Loader{path: path, done: make(chan struct{})}
}

// Load reads, expands, parses, layers env vars, and runs the processing
// pipeline. The returned Config is fully defaulted and validated.
func (l *Loader) Load() (*Config, error) {
	path := l.resolvePath()

	k := koanf.New(".")

	raw := map[string]interface{}{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		expanded := expandEnvVars(data)
		raw, err = kyaml.Parser().Unmarshal(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if err := k.Load(confmap.Provider(raw, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load config map: %w", err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, envPrefix)
			key = strings.ToLower(strings.ReplaceAll(key, "__", "."))
			return key, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	processed, err := Process(&cfg)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.path = path
	l.current = processed
	l.raw = raw
	l.mu.Unlock()

	return processed, nil
}

// Current returns the last loaded config, or nil before Load.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// RawMap returns the last loaded pre-decode map. Used by the update path to
// merge patches against the on-disk state rather than defaults.
func (l *Loader) RawMap() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.raw
}

func (l *Loader) resolvePath() string {
	if l.path != "" {
		return l.path
	}
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Watch re-loads the config when the file changes and invokes onChange with
// the new tree. Reload failures are logged and the previous config stays
// active. No-op when running on the zero config.
func (l *Loader) Watch(onChange func(*Config)) error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops
	// per-file watches.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.onChange = onChange
	l.mu.Unlock()

	go l.watchLoop(path)
	return nil
}

func (l *Loader) watchLoop(path string) {
	log := logger.Component("config")
	var debounce *time.Timer
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				cfg, err := l.Load()
				if err != nil {
					log.Warn("config reload failed, keeping previous", "error", err)
					return
				}
				log.Info("config reloaded", "path", path)
				l.mu.RLock()
				cb := l.onChange
				l.mu.RUnlock()
				if cb != nil {
					cb(cfg)
				}
			})
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (l *Loader) Close() error {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}

// expandEnvVars substitutes ${VAR} and ${VAR:-default} references. Unset
// variables without a default expand to the empty string.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def, hasDef := strings.Cut(expr, ":-")
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		if hasDef {
			return []byte(def)
		}
		return nil
	})
}
