package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"

	"github.com/menta2k/image-annotator/pkg/failure"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Config is one consistent view of the settings
type Config struct {
	Mode        types.Mode
	APIKey      string
	APIEndpoint string
}

// HasCredentials reports whether an analysis request may be attempted
func (c Config) HasCredentials() bool {
	return c.APIKey != ""
}

// State is the live settings copy. It is written only by Load and Apply
// and read by the analysis session at request time.
type State struct {
	log logs.Log

	mu  sync.RWMutex
	cfg Config
}

func NewState(log logs.Log) *State {
	return &State{
		log: log,
		cfg: Config{Mode: types.DefaultMode},
	}
}

// Load performs the initial read. An explicit mode wins over the legacy
// key, which is only honoured when mode is absent.
func (s *State) Load(ctx context.Context, store Store) error {
	values, err := store.Get(ctx, AllKeys...)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	cfg := Config{Mode: types.DefaultMode}
	cfg.APIKey = values[KeyAPIKey]
	cfg.APIEndpoint = values[KeyAPIEndpoint]

	raw, hasMode := values[KeyMode]
	legacy, hasLegacy := values[KeyLegacyMode]
	switch {
	case hasMode && raw != "":
		cfg.Mode = s.parseMode(raw, cfg.Mode)
	case hasLegacy && legacy != "":
		cfg.Mode = s.parseMode(legacy, cfg.Mode)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.log.Infof("Settings loaded: mode=%v credentials=%v", cfg.Mode, cfg.HasCredentials())
	return nil
}

// Apply folds one change notification into the state
func (s *State) Apply(cs ChangeSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := cs[KeyAPIKey]; ok {
		s.cfg.APIKey = valueOf(c)
	}
	if c, ok := cs[KeyAPIEndpoint]; ok {
		s.cfg.APIEndpoint = valueOf(c)
	}
	if c, ok := cs[KeyMode]; ok {
		if !c.Deleted {
			s.cfg.Mode = s.parseMode(c.NewValue, s.cfg.Mode)
		}
	} else if c, ok := cs[KeyLegacyMode]; ok && !c.Deleted {
		s.cfg.Mode = s.parseMode(c.NewValue, s.cfg.Mode)
	}
}

// Sync applies every change from store until ctx is done
func (s *State) Sync(ctx context.Context, store Store) error {
	changes, err := store.Subscribe(ctx)
	if err != nil {
		return err
	}
	s.Follow(changes)
	return nil
}

// Follow applies change sets from ch until it is closed
func (s *State) Follow(ch <-chan ChangeSet) {
	for cs := range ch {
		s.Apply(cs)
	}
}

func (s *State) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Credentials hands the live key and endpoint to an analyzer backend
func (s *State) Credentials(context.Context) (string, string, error) {
	cfg := s.Snapshot()
	if !cfg.HasCredentials() {
		return "", "", failure.New(failure.KindConfig, "credentials", "Missing API Key")
	}
	return cfg.APIKey, cfg.APIEndpoint, nil
}

func (s *State) parseMode(raw string, current types.Mode) types.Mode {
	m, err := types.ParseMode(raw)
	if err != nil {
		s.log.Warnf("Ignoring stored mode: %v", err)
		return current
	}
	return m
}

func valueOf(c Change) string {
	if c.Deleted {
		return ""
	}
	return c.NewValue
}

// StoreCredentials reads credentials straight from a store on every call
type StoreCredentials struct {
	Store Store
}

func (sc StoreCredentials) Credentials(ctx context.Context) (string, string, error) {
	values, err := sc.Store.Get(ctx, KeyAPIKey, KeyAPIEndpoint)
	if err != nil {
		return "", "", failure.Wrap(failure.KindConfig, "credentials", "failed to read settings", err)
	}
	if values[KeyAPIKey] == "" {
		return "", "", failure.New(failure.KindConfig, "credentials", "Missing API Key")
	}
	return values[KeyAPIKey], values[KeyAPIEndpoint], nil
}
