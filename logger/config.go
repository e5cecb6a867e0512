package logger

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ModuleConfig manages per-module logging configuration.
// It supports hierarchical module names where more specific modules
// override less specific ones (e.g., "reactor.executor" overrides "reactor").
type ModuleConfig struct {
	defaultLevel slog.Level
	modules      map[string]slog.Level
	sortedKeys   []string // sorted by specificity (most specific first)
	mu           sync.RWMutex
}

// NewModuleConfig creates a new ModuleConfig with the given default level.
func NewModuleConfig(defaultLevel slog.Level) *ModuleConfig {
	return &ModuleConfig{
		defaultLevel: defaultLevel,
		modules:      make(map[string]slog.Level),
	}
}

// SetModuleLevel sets the log level for a specific module.
// Module names use dot notation (e.g., "reactor.executor").
func (m *ModuleConfig) SetModuleLevel(module string, level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.modules[module] = level
	m.updateSortedKeys()
}

// SetDefaultLevel sets the default log level.
func (m *ModuleConfig) SetDefaultLevel(level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultLevel = level
}

// LevelFor returns the log level for the given module.
// It checks for an exact match first, then walks up the dot-separated
// hierarchy, and falls back to the default level.
func (m *ModuleConfig) LevelFor(module string) slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if level, ok := m.modules[module]; ok {
		return level
	}

	parts := strings.Split(module, ".")
	for i := len(parts) - 1; i > 0; i-- {
		parent := strings.Join(parts[:i], ".")
		if level, ok := m.modules[parent]; ok {
			return level
		}
	}

	return m.defaultLevel
}

// Modules returns the configured module names, most specific first.
func (m *ModuleConfig) Modules() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, len(m.sortedKeys))
	copy(keys, m.sortedKeys)
	return keys
}

// updateSortedKeys rebuilds the specificity ordering. Callers hold the lock.
func (m *ModuleConfig) updateSortedKeys() {
	m.sortedKeys = m.sortedKeys[:0]
	for k := range m.modules {
		m.sortedKeys = append(m.sortedKeys, k)
	}
	sort.Slice(m.sortedKeys, func(i, j int) bool {
		di := strings.Count(m.sortedKeys[i], ".")
		dj := strings.Count(m.sortedKeys[j], ".")
		if di != dj {
			return di > dj
		}
		return m.sortedKeys[i] < m.sortedKeys[j]
	})
}
