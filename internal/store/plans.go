package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cashflow402/gateway/internal/gwerrors"
)

// PlanStore is the Plan Registry (spec §4.7): merchant-defined
// subscription plans, keyed by planId.
type PlanStore struct {
	mu       sync.RWMutex
	filePath string
	byID     map[string]*Plan
}

// NewPlanStore opens (or creates) the JSON-backed plan registry.
func NewPlanStore(filePath string) (*PlanStore, error) {
	s := &PlanStore{
		filePath: filePath,
		byID:     make(map[string]*Plan),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load plan store: %w", err)
	}
	return s, nil
}

// Add inserts a new plan.
func (s *PlanStore) Add(plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[plan.PlanID] = clonePlan(plan)
	return s.persist()
}

// Get looks up a plan by id.
func (s *PlanStore) Get(planID string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.byID[planID]
	if !ok {
		return nil, gwerrors.New(gwerrors.NotFound, "plan not found")
	}
	return clonePlan(plan), nil
}

// GetAll returns every plan.
func (s *PlanStore) GetAll() []*Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Plan, 0, len(s.byID))
	for _, plan := range s.byID {
		result = append(result, clonePlan(plan))
	}
	return result
}

// GetByMerchant returns every plan owned by a merchant address.
func (s *PlanStore) GetByMerchant(merchantAddress string) []*Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Plan, 0)
	for _, plan := range s.byID {
		if plan.MerchantAddress == merchantAddress {
			result = append(result, clonePlan(plan))
		}
	}
	return result
}

// Patch applies partial field updates to a plan (name, description,
// allowed paths, status) per the merchant PATCH endpoint (spec §6).
func (s *PlanStore) Patch(planID string, mutate func(plan *Plan)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.byID[planID]
	if !ok {
		return gwerrors.New(gwerrors.NotFound, "plan not found")
	}
	mutate(plan)
	return s.persist()
}

// IncrementSubscribers bumps a plan's subscriber count after a new
// subscription deploys against it.
func (s *PlanStore) IncrementSubscribers(planID string) error {
	return s.Patch(planID, func(plan *Plan) {
		plan.SubscriberCount++
	})
}

// IsPathAllowed reports whether apiPath matches one of the plan's
// allowed-path glob patterns (a trailing "/*" wildcard suffix, per
// spec §4.11's router gating rule).
func IsPathAllowed(plan *Plan, apiPath string) bool {
	for _, pattern := range plan.AllowedPaths {
		if pattern == apiPath {
			return true
		}
		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "*")
			if strings.HasPrefix(apiPath, prefix) {
				return true
			}
		}
	}
	return false
}

func (s *PlanStore) load() error {
	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var records map[string]*Plan
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	s.byID = records
	return nil
}

func (s *PlanStore) persist() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := json.MarshalIndent(s.byID, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	return os.Rename(tmpPath, s.filePath)
}

func clonePlan(p *Plan) *Plan {
	clone := *p
	clone.AuthorizedSats = p.AuthorizedSats.Clone()
	clone.PerCallSats = p.PerCallSats.Clone()
	clone.AllowedPaths = append([]string{}, p.AllowedPaths...)
	return &clone
}
