package secretstore

import (
	"context"
	"fmt"
	"sync"
)

type memoryVersion struct {
	payload Payload
	stages  map[Stage]bool
}

type memorySecret struct {
	versions map[string]*memoryVersion
}

// MemoryStore is an in-memory Store that enforces the stage invariants.
type MemoryStore struct {
	mu      sync.Mutex
	secrets map[string]*memorySecret

	// Puts counts successful version writes, per secret
	Puts map[string]int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]*memorySecret),
		Puts:    make(map[string]int),
	}
}

// Seed creates a secret whose first version is labeled AWSCURRENT
func (m *MemoryStore) Seed(secretID, versionID string, payload Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.secrets[secretID] = &memorySecret{
		versions: map[string]*memoryVersion{
			versionID: {payload: payload.Clone(), stages: map[Stage]bool{StageCurrent: true}},
		},
	}
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, secretID string, stage Stage, versionID string) (Lookup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	secret, ok := m.secrets[secretID]
	if !ok {
		return NotFound(), nil
	}

	for id, v := range secret.versions {
		if versionID != "" && id != versionID {
			continue
		}
		if v.stages[stage] {
			return Found(v.payload.Clone(), id), nil
		}
	}
	return NotFound(), nil
}

// Put implements Store
func (m *MemoryStore) Put(ctx context.Context, secretID, token string, payload Payload, stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	secret, ok := m.secrets[secretID]
	if !ok {
		return fmt.Errorf("secret %s does not exist", secretID)
	}
	if _, exists := secret.versions[token]; exists {
		// Same token: the store treats the write as already applied.
		return nil
	}

	m.clearStage(secret, stage)
	secret.versions[token] = &memoryVersion{payload: payload.Clone(), stages: map[Stage]bool{stage: true}}
	m.Puts[secretID]++
	return nil
}

// DescribeStages implements Store
func (m *MemoryStore) DescribeStages(ctx context.Context, secretID string) (map[string][]Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	secret, ok := m.secrets[secretID]
	if !ok {
		return nil, fmt.Errorf("secret %s does not exist", secretID)
	}

	out := make(map[string][]Stage, len(secret.versions))
	for id, v := range secret.versions {
		for _, s := range []Stage{StageCurrent, StagePending, StagePrevious} {
			if v.stages[s] {
				out[id] = append(out[id], s)
			}
		}
		if _, ok := out[id]; !ok {
			out[id] = nil
		}
	}
	return out, nil
}

// MoveStage implements Store. Moving AWSCURRENT demotes the prior holder to AWSPREVIOUS.
func (m *MemoryStore) MoveStage(ctx context.Context, secretID string, stage Stage, toVersion, fromVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	secret, ok := m.secrets[secretID]
	if !ok {
		return fmt.Errorf("secret %s does not exist", secretID)
	}
	target, ok := secret.versions[toVersion]
	if !ok {
		return fmt.Errorf("version %s of %s does not exist", toVersion, secretID)
	}

	var holder string
	for id, v := range secret.versions {
		if v.stages[stage] {
			holder = id
		}
	}
	if holder != "" && holder != toVersion && holder != fromVersion {
		return fmt.Errorf("stage %s is attached to %s, not %s", stage, holder, fromVersion)
	}

	if stage == StageCurrent && holder != "" && holder != toVersion {
		m.clearStage(secret, StagePrevious)
		secret.versions[holder].stages[StagePrevious] = true
	}
	if holder != "" {
		delete(secret.versions[holder].stages, stage)
	}
	target.stages[stage] = true
	return nil
}

func (m *MemoryStore) clearStage(secret *memorySecret, stage Stage) {
	for _, v := range secret.versions {
		delete(v.stages, stage)
	}
}
