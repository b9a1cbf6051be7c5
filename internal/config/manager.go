package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// TenantsConfig holds per-institution config overrides, keyed by institution
// id. DDALAB has no multi-tenant billing concept, but a federation member can
// still want its own job concurrency limit or sync broker password without a
// second binary — this repurposes the teacher's tenant-override mechanism for
// that.
type TenantsConfig struct {
	Institutions map[string]Config `yaml:"institutions"`
}

// Manager resolves the effective config for a given institution by layering
// its overrides on top of the global config.
type Manager struct {
	globalConfig *Config
	overrides    map[string]Config
	mu           sync.RWMutex
}

// NewManager loads the global config plus an optional per-institution
// overrides file. A missing overrides file is not an error.
func NewManager(masterPath, institutionsPath string) (*Manager, error) {
	master, err := LoadConfig(masterPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(institutionsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{globalConfig: master, overrides: make(map[string]Config)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var tc TenantsConfig
	if err := yaml.NewDecoder(f).Decode(&tc); err != nil {
		return nil, err
	}

	return &Manager{
		globalConfig: master,
		overrides:    tc.Institutions,
	}, nil
}

// Get returns the effective config for an institution id, merging its
// overrides onto a copy of the global config. An unknown institution id
// just gets the global config back.
func (m *Manager) Get(institutionID string) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.globalConfig

	override, ok := m.overrides[institutionID]
	if !ok {
		return &effective
	}

	if override.JobQueue.MaxConcurrentJobs != 0 {
		effective.JobQueue = override.JobQueue
	}
	if override.Session.TimeoutSeconds != 0 {
		effective.Session = override.Session
	}
	if override.SyncBroker.PasswordHash != "" {
		effective.SyncBroker = override.SyncBroker
	}
	if override.Federation.InstitutionID != "" {
		effective.Federation = override.Federation
	}

	return &effective
}
