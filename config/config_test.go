package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)

		assert.Equal(t, "fern", cfg.AppName)
		assert.Equal(t, "raw.candidates", cfg.KafkaInputTopic)
		assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
		assert.Equal(t, 200*time.Millisecond, cfg.KafkaConsumeWait)
		assert.Equal(t, "config/matching.yaml", cfg.MatchingConfigPath)
	})

	t.Run("EnvFileAndEnvironment", func(t *testing.T) {
		envFile := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("FERN_TEST_UNUSED=1\nRESOLVE_WORKERS=3\n"), 0o600))
		t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
		t.Setenv("DB_HOST", "pg")
		t.Setenv("DB_PASSWORD", "secret")
		t.Cleanup(func() {
			os.Unsetenv("FERN_TEST_UNUSED")
			os.Unsetenv("RESOLVE_WORKERS")
		})

		cfg, err := Load(envFile)
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.ResolveWorkers)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
		assert.Equal(t, "postgres://fern:secret@pg:5432/fern?sslmode=disable", cfg.DatabaseDSN())
	})
}
