package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medaccess/pkg/config"
)

type sampleConfig struct {
	Name     string        `env:"NAME" envDefault:"medaccess"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"5s"`
	Required string        `env:"REQUIRED,required"`
	Modules  []string      `env:"MODULES" envSeparator:","`
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("defaults and explicit values", func(t *testing.T) {
		t.Parallel()

		var cfg sampleConfig
		err := config.Load(&cfg, config.WithEnviron(map[string]string{
			"REQUIRED": "yes",
			"MODULES":  "pharmacy,laboratory",
		}))
		require.NoError(t, err)

		assert.Equal(t, "medaccess", cfg.Name)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
		assert.Equal(t, "yes", cfg.Required)
		assert.Equal(t, []string{"pharmacy", "laboratory"}, cfg.Modules)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		var cfg sampleConfig
		err := config.Load(&cfg,
			config.WithPrefix("ACCESS_"),
			config.WithEnviron(map[string]string{
				"ACCESS_REQUIRED": "1",
				"ACCESS_TIMEOUT":  "1m",
			}),
		)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, cfg.Timeout)
	})

	t.Run("missing required", func(t *testing.T) {
		t.Parallel()

		var cfg sampleConfig
		err := config.Load(&cfg, config.WithEnviron(map[string]string{}))
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("invalid duration", func(t *testing.T) {
		t.Parallel()

		var cfg sampleConfig
		err := config.Load(&cfg, config.WithEnviron(map[string]string{
			"REQUIRED": "1",
			"TIMEOUT":  "soon",
		}))
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, config.Load[sampleConfig](nil), config.ErrNilPointer)
	})

	t.Run("missing env file", func(t *testing.T) {
		t.Parallel()

		var cfg sampleConfig
		err := config.Load(&cfg, config.WithEnvFiles(filepath.Join(t.TempDir(), "nope.env")))
		assert.ErrorIs(t, err, config.ErrEnvFile)
	})
}

func TestMustLoad(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		var cfg sampleConfig
		config.MustLoad(&cfg, config.WithEnviron(map[string]string{}))
	})
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("CONFIG_TEST_FILE_REQUIRED=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CONFIG_TEST_FILE_REQUIRED") })

	var cfg sampleConfig
	err := config.Load(&cfg, config.WithPrefix("CONFIG_TEST_FILE_"), config.WithEnvFiles(file))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Required)
}

func TestLookup(t *testing.T) {
	t.Setenv("CONFIG_LOOKUP_TEST", "value")

	assert.Equal(t, "value", config.Lookup("CONFIG_LOOKUP_TEST", "def"))
	assert.Equal(t, "def", config.Lookup("CONFIG_LOOKUP_TEST_MISSING", "def"))
}
