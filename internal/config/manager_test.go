package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewManagerWithoutInstitutionsFile(t *testing.T) {
	dir := t.TempDir()
	master := writeFile(t, dir, "config.yaml", "server:\n  port: \"8080\"\n")

	mgr, err := NewManager(master, filepath.Join(dir, "institutions.yaml"))
	require.NoError(t, err)

	cfg := mgr.Get("unknown-institution")
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestManagerGetAppliesInstitutionOverride(t *testing.T) {
	dir := t.TempDir()
	master := writeFile(t, dir, "config.yaml", "job_queue:\n  max_concurrent_jobs: 2\n")
	institutions := writeFile(t, dir, "institutions.yaml", ""+
		"institutions:\n"+
		"  hospital-a:\n"+
		"    job_queue:\n"+
		"      max_concurrent_jobs: 10\n")

	mgr, err := NewManager(master, institutions)
	require.NoError(t, err)

	assert.Equal(t, 10, mgr.Get("hospital-a").JobQueue.MaxConcurrentJobs)
	assert.Equal(t, 2, mgr.Get("hospital-b").JobQueue.MaxConcurrentJobs)
}

func TestNewManagerMissingMasterFails(t *testing.T) {
	_, err := NewManager("/nonexistent/config.yaml", "/nonexistent/institutions.yaml")
	assert.Error(t, err)
}
