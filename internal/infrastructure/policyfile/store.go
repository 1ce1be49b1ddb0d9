// Package policyfile loads approval policies from a YAML file and serves them
// as a port.PolicyRepository.
package policyfile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/engine"
)

// File is the root of a policies YAML document
type File struct {
	Policies []approval.Policy `yaml:"policies"`
}

// Parse decodes and validates a policies document. Policy ids must be unique.
func Parse(data []byte) ([]approval.Policy, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("policyfile: decode: %w", err)
	}

	seen := make(map[string]bool, len(f.Policies))
	for _, p := range f.Policies {
		if err := engine.ValidatePolicy(p); err != nil {
			return nil, fmt.Errorf("policyfile: %w", err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("policyfile: duplicate policy id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return f.Policies, nil
}

// Store holds the policies of one file. Reload swaps them atomically; a
// failed reload keeps the previous set.
type Store struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	policies []approval.Policy
}

// NewStore creates a store holding policies directly
func NewStore(policies []approval.Policy, logger *zap.Logger) *Store {
	return &Store{policies: policies, logger: logger}
}

// Load reads path into a new store
func Load(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the backing file
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("policyfile: store has no backing file")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("policyfile: read %s: %w", s.path, err)
	}
	policies, err := Parse(data)
	if err != nil {
		s.logger.Error("Failed to load policies", zap.String("path", s.path), zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.policies = policies
	s.mu.Unlock()

	s.logger.Info("Policies loaded", zap.String("path", s.path), zap.Int("count", len(policies)))
	return nil
}

// ListActive returns the active policies for objectType in file order
func (s *Store) ListActive(ctx context.Context, objectType string) ([]approval.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []approval.Policy
	for _, p := range s.policies {
		if p.Active && p.ObjectType == objectType {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetByID returns the policy with id, or nil
func (s *Store) GetByID(ctx context.Context, id string) (*approval.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.policies {
		if p.ID == id {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

// List returns every policy, active or not
func (s *Store) List(ctx context.Context) ([]approval.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]approval.Policy(nil), s.policies...), nil
}

// Verify interface compliance
var _ port.PolicyRepository = (*Store)(nil)
