package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 2, cfg.JobQueue.MaxConcurrentJobs)
	assert.Equal(t, "./uploads", cfg.Jobs.UploadDirectory)
	assert.EqualValues(t, 500*1024*1024, cfg.Jobs.MaxUploadSizeBytes)
	assert.Equal(t, "drop_oldest", cfg.Streaming.OverflowStrategy)
	assert.EqualValues(t, 3600, cfg.Session.TimeoutSeconds)
	assert.Equal(t, "ddalab-local", cfg.Federation.InstitutionID)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = "9090"
	cfg.JobQueue.MaxConcurrentJobs = 8
	cfg.applyDefaults()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 8, cfg.JobQueue.MaxConcurrentJobs)
}

func TestApplyEnvOverridesReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("JOB_QUEUE_MAX_CONCURRENT", "16")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")

	cfg := &Config{}
	cfg.applyEnvOverrides()

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, 16, cfg.JobQueue.MaxConcurrentJobs)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowOrigins)
}

func TestLoadConfigReadsYAML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("server:\n  port: \"9999\"\njob_queue:\n  max_concurrent_jobs: 5\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := LoadConfig(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 5, cfg.JobQueue.MaxConcurrentJobs)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestIsProductionAndDevelopment(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Env: "production"}}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.Server.Env = "development"
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.IsDevelopment())
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitCSV(" a, b ,c,"))
	assert.Empty(t, splitCSV(""))
}
