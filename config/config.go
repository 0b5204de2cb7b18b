package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/cmlabs/modelproxy/model"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Error reports a problem with the configuration file. Load and reload
// failures carry the offending path so callers can report it.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// fileFormat matches the on-disk JSON layout:
// {"endpoints": {"<model_id>": {"displayName","url","apiKey","actualModelName"}}}
type fileFormat struct {
	Endpoints map[string]*model.Endpoint `json:"endpoints"`
}

// Load reads and validates the endpoint configuration at path, returning a
// new immutable snapshot. url, apiKey and actualModelName are required per
// endpoint; displayName falls back to the model identifier.
func Load(path string, logger *zap.Logger) (*model.Snapshot, error) {
	fileData, err := os.ReadFile(path)
	if err != nil {
		logger.Error("Failed to read config file", zap.String("file", path), zap.Error(err))
		return nil, &Error{Path: path, Err: err}
	}

	var cfg fileFormat
	if err := json.Unmarshal(fileData, &cfg); err != nil {
		logger.Error("Failed to unmarshal config data", zap.String("file", path), zap.Error(err))
		return nil, &Error{Path: path, Err: err}
	}

	if len(cfg.Endpoints) == 0 {
		return nil, &Error{Path: path, Err: errors.New("no endpoints defined")}
	}

	for id, ep := range cfg.Endpoints {
		if ep == nil {
			return nil, &Error{Path: path, Err: fmt.Errorf("endpoint %q is empty", id)}
		}
		if ep.URL == "" {
			return nil, &Error{Path: path, Err: fmt.Errorf("endpoint %q missing url", id)}
		}
		if ep.APIKey == "" {
			return nil, &Error{Path: path, Err: fmt.Errorf("endpoint %q missing apiKey", id)}
		}
		if ep.ActualModelName == "" {
			return nil, &Error{Path: path, Err: fmt.Errorf("endpoint %q missing actualModelName", id)}
		}
		if ep.DisplayName == "" {
			ep.DisplayName = id
		}
		logger.Info("Loaded endpoint",
			zap.String("model", id),
			zap.String("displayName", ep.DisplayName),
			zap.String("url", ep.URL))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	logger.Info("Config file loaded and parsed", zap.String("file", abs), zap.Int("endpoints", len(cfg.Endpoints)))
	return &model.Snapshot{Endpoints: cfg.Endpoints, Path: abs}, nil
}

// Store holds the active configuration snapshot behind an atomic pointer.
// The read path takes no locks: snapshots are replace-only, never mutated,
// so a request that already captured one keeps using it across a reload.
type Store struct {
	snapshot atomic.Pointer[model.Snapshot]
	logger   *zap.Logger

	// OnReload, when set, is invoked with the outcome of every reload
	// attempt. Assign it before the store is shared.
	OnReload func(err error)
}

// NewStore creates a store seeded with the initial snapshot.
func NewStore(snap *model.Snapshot, logger *zap.Logger) *Store {
	s := &Store{logger: logger}
	s.snapshot.Store(snap)
	return s
}

// Snapshot returns the currently active snapshot.
func (s *Store) Snapshot() *model.Snapshot {
	return s.snapshot.Load()
}

// Reload re-reads the file at path and swaps the active snapshot in one
// step. On failure the previous snapshot stays active and is untouched.
func (s *Store) Reload(path string) (*model.Snapshot, error) {
	snap, err := Load(path, s.logger)
	if s.OnReload != nil {
		s.OnReload(err)
	}
	if err != nil {
		s.logger.Error("Reload failed, keeping previous configuration",
			zap.String("file", path), zap.Error(err))
		return nil, err
	}
	s.snapshot.Store(snap)
	s.logger.Info("Configuration reloaded",
		zap.String("file", snap.Path), zap.Int("endpoints", len(snap.Endpoints)))
	return snap, nil
}

// InitFlags initializes and parses the command-line flags. A .env file in
// the working directory is honored, with real environment variables taking
// precedence over it.
func InitFlags() (string, int, string, bool) {
	godotenv.Load() //nolint:errcheck

	configFile := flag.String("config", envOr("MODELPROXY_CONFIG_FILE", "config.json"), "Path to the endpoints configuration file")
	listeningPort := flag.Int("port", envOrInt("MODELPROXY_PORT", 3333), "Listening port")
	logLevel := flag.String("log-level", "info", "define the log level: debug, info, warn, error, dpanic, panic, fatal")
	watch := flag.Bool("watch", false, "Reload automatically when the configuration file changes")

	flag.Parse()

	return *configFile, *listeningPort, *logLevel, *watch
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
