// Package settings persists the small key/value configuration the host shell
// edits at runtime, such as the proxy domain and the tunnel origin allow-list.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Known keys.
const (
	KeyProxyDomain    = "tunnel.proxy-domain"
	KeyAllowedOrigins = "tunnel.allowed-origins"
)

// ErrInvalidKey is returned for keys that are empty or contain whitespace.
var ErrInvalidKey = errors.New("invalid settings key")

// Store is the persisted key/value capability consumed by the host.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Tunnel is the tunnel configuration derived from a Store.
type Tunnel struct {
	ProxyDomain    string
	AllowedOrigins []string
}

// ReadTunnel reads the tunnel settings from s, falling back to the given
// values for keys that are unset.
func ReadTunnel(s Store, fallback Tunnel) Tunnel {
	t := fallback
	if v, ok := s.Get(KeyProxyDomain); ok && v != "" {
		t.ProxyDomain = v
	}
	if v, ok := s.Get(KeyAllowedOrigins); ok && v != "" {
		t.AllowedOrigins = SplitList(v)
	}
	return t
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func validateValue(key, value string) error {
	switch key {
	case KeyProxyDomain:
		if value == "" || strings.ContainsAny(value, "/: ") {
			return fmt.Errorf("%s must be a bare hostname, got %q", key, value)
		}
	case KeyAllowedOrigins:
		if len(SplitList(value)) == 0 {
			return fmt.Errorf("%s must list at least one origin or *", key)
		}
	}
	return nil
}

// fileState is the on-disk document.
type fileState struct {
	Version   int               `json:"version"`
	Values    map[string]string `json:"values"`
	UpdatedAt string            `json:"updated_at"`
}

// FileStore is a Store backed by a JSON file. Writes are debounced.
type FileStore struct {
	path string
	mu   sync.RWMutex
	st   fileState

	saveTimer    *time.Timer
	saveInterval time.Duration
	pendingSave  bool
}

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Path is the settings file.
	Path string
	// SaveInterval is the minimum time between saves (debouncing).
	SaveInterval time.Duration
}

// Open creates a FileStore and loads any existing file.
func Open(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("settings path is required")
	}
	if cfg.SaveInterval == 0 {
		cfg.SaveInterval = time.Second
	}

	fs := &FileStore{
		path:         cfg.Path,
		saveInterval: cfg.SaveInterval,
		st:           fileState{Version: 1, Values: map[string]string{}},
	}
	if err := fs.Load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Path returns the settings file path.
func (fs *FileStore) Path() string {
	return fs.path
}

// Load reads the settings file. A missing file is not an error.
func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}
	if st.Values == nil {
		st.Values = map[string]string{}
	}
	fs.st = st
	return nil
}

// Get returns the value stored under key.
func (fs *FileStore) Get(key string) (string, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	v, ok := fs.st.Values[key]
	return v, ok
}

// Set stores value under key and schedules a save.
func (fs *FileStore) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(key, value); err != nil {
		return err
	}

	fs.mu.Lock()
	fs.st.Values[key] = value
	fs.scheduleSaveLocked()
	fs.mu.Unlock()
	return nil
}

// Delete removes key and schedules a save.
func (fs *FileStore) Delete(key string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.st.Values[key]; !ok {
		return
	}
	delete(fs.st.Values, key)
	fs.scheduleSaveLocked()
}

// Keys returns every stored key in sorted order.
func (fs *FileStore) Keys() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	keys := make([]string, 0, len(fs.st.Values))
	for k := range fs.st.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush writes any pending save immediately.
func (fs *FileStore) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.saveTimer != nil {
		fs.saveTimer.Stop()
		fs.saveTimer = nil
	}
	if !fs.pendingSave {
		return nil
	}
	fs.pendingSave = false
	return fs.saveLocked()
}

// Close flushes pending writes.
func (fs *FileStore) Close() error {
	return fs.Flush()
}

func (fs *FileStore) scheduleSaveLocked() {
	fs.pendingSave = true
	if fs.saveTimer != nil {
		fs.saveTimer.Stop()
	}
	fs.saveTimer = time.AfterFunc(fs.saveInterval, func() {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if fs.pendingSave {
			fs.pendingSave = false
			_ = fs.saveLocked()
		}
	})
}

func (fs *FileStore) saveLocked() error {
	fs.st.UpdatedAt = time.Now().Format(time.RFC3339)

	data, err := json.MarshalIndent(fs.st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmpPath := fs.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmpPath, fs.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename settings file: %w", err)
	}
	return nil
}

// Memory is an in-memory Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns a Memory store seeded with values.
func NewMemory(values map[string]string) *Memory {
	m := &Memory{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(key, value); err != nil {
		return err
	}
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}
