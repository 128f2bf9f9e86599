package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key := kv[:i]
				if len(key) > len("TELEAUDIO_") && key[:len("TELEAUDIO_")] == "TELEAUDIO_" {
					os.Unsetenv(key)
				}
				break
			}
		}
	}
}

func TestLoadAppliesDocumentedDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MaxWorkers)
	require.Equal(t, 10, cfg.RateCapacity)
	require.Equal(t, int64(1048576), cfg.ChunkSizeBytes)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, "NewestFirst", cfg.Direction)
}

func TestValidateRejectsOutOfRangeWorkerCount(t *testing.T) {
	cfg := Config{MaxWorkers: 20, RateCapacity: 10, RateRefillPerSecond: 1, ChunkSizeBytes: 1 << 20, MaxAttempts: 3, Direction: "NewestFirst"}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownDirection(t *testing.T) {
	cfg := Config{MaxWorkers: 3, RateCapacity: 10, RateRefillPerSecond: 1, ChunkSizeBytes: 1 << 20, MaxAttempts: 3, Direction: "Sideways"}
	require.Error(t, cfg.Validate())
}

func TestEnvOverridesDefault(t *testing.T) {
	clearEnv(t)
	os.Setenv("TELEAUDIO_MAX_WORKERS", "7")
	defer os.Unsetenv("TELEAUDIO_MAX_WORKERS")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxWorkers)
}
