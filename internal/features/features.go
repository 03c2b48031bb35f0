package features

import (
	"sort"
	"sync"
)

// Flag names
const (
	// CacheEnabled fronts the card catalogue and merchant directory with a cache
	CacheEnabled = "cache_enabled"
	// EventHooksEnabled publishes commit, rollover and recommendation events
	EventHooksEnabled = "event_hooks_enabled"
	// FuzzyMerchantLookup resolves free-text merchant names against the directory
	FuzzyMerchantLookup = "fuzzy_merchant_lookup"
)

// Flag is one named toggle.
type Flag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager holds feature flags. A nil *Manager reports every flag disabled.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*Flag
}

// NewManager creates a manager with the known flags registered.
func NewManager(enabled map[string]bool) *Manager {
	m := &Manager{flags: make(map[string]*Flag)}
	m.Register(CacheEnabled, enabled[CacheEnabled], "Cache cards and merchants in front of the store")
	m.Register(EventHooksEnabled, enabled[EventHooksEnabled], "Publish reward lifecycle events")
	m.Register(FuzzyMerchantLookup, enabled[FuzzyMerchantLookup], "Categorize purchases by fuzzy merchant name")
	return m
}

// Register adds or replaces a flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &Flag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled reports whether name is registered and enabled.
func (m *Manager) IsEnabled(name string) bool {
	if m == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	return exists && flag.Enabled
}

// Set toggles a registered flag. Unknown names are ignored.
func (m *Manager) Set(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = enabled
	}
}

// All returns a snapshot of every flag, ordered by name.
func (m *Manager) All() []Flag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Flag, 0, len(m.flags))
	for _, v := range m.flags {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
