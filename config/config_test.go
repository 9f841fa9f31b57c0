package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
adapter:
  row_pattern: striped
`))
	require.NoError(t, err)
	assert.Equal(t, uint16(defaultPort), cfg.Adapter.Port)
	assert.Equal(t, "sequential", cfg.Adapter.HammeringMode)
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(`
adapter:
  port: 9000
  row_pattern: all_1
  row_check_distance: 2
  bank: 1
  hammering_mode: interleaving
`))
	require.NoError(t, err)
	want := Adapter{Port: 9000, RowPattern: "all_1", RowCheckDistance: 2, Bank: 1, HammeringMode: "interleaving"}
	assert.Equal(t, want, cfg.Adapter)
}

func TestParseRejectsUnknownPattern(t *testing.T) {
	_, err := Parse([]byte(`
adapter:
  row_pattern: rainbow
`))
	require.Error(t, err)
	assert.IsType(t, ConfigError{}, err)
}

func TestParseRejectsUnknownMode(t *testing.T) {
	_, err := Parse([]byte(`
adapter:
  hammering_mode: random
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	assert.Error(t, err)
}
