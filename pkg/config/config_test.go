package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadFillsDefaultPortFromBackend(t *testing.T) {
	setEnv(t, map[string]string{
		"PEER_ROLE":     "from",
		"PEER_BACKEND":  "mysql",
		"PEER_DATABASE": "widgets",
	})
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3306", cfg.Port)
	assert.Equal(t, "localhost", cfg.Host)
}

func TestLoadHonorsExplicitPort(t *testing.T) {
	setEnv(t, map[string]string{
		"PEER_ROLE":     "to",
		"PEER_BACKEND":  "postgres",
		"PEER_DATABASE": "widgets",
		"PEER_PORT":     "6543",
	})
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "6543", cfg.Port)
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	setEnv(t, map[string]string{
		"PEER_ROLE":     "sideways",
		"PEER_BACKEND":  "mysql",
		"PEER_DATABASE": "widgets",
	})
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	setEnv(t, map[string]string{
		"PEER_ROLE":    "from",
		"PEER_BACKEND": "mysql",
	})
	os.Unsetenv("PEER_DATABASE")
	_, err := Load()
	assert.Error(t, err)
}
