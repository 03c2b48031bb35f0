package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager(t *testing.T) {
	m := NewManager(map[string]bool{CacheEnabled: true})

	assert.True(t, m.IsEnabled(CacheEnabled))
	assert.False(t, m.IsEnabled(EventHooksEnabled))
	assert.False(t, m.IsEnabled("unknown"))

	m.Set(EventHooksEnabled, true)
	assert.True(t, m.IsEnabled(EventHooksEnabled))

	m.Set("unknown", true)
	assert.False(t, m.IsEnabled("unknown"))

	all := m.All()
	assert.Len(t, all, 3)
	assert.Equal(t, CacheEnabled, all[0].Name)
}

func TestManager_Nil(t *testing.T) {
	var m *Manager
	assert.False(t, m.IsEnabled(CacheEnabled))
}
