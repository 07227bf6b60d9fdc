package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cashflow402/gateway/internal/gwerrors"
)

// UsageStore is the Usage Meter (spec §4.6): per-subscription pending
// and lifetime satoshi totals plus a FIFO-capped recent-call log.
// Persistence follows the same write-then-rename pattern as
// SubscriptionStore; deduction against a single category is guarded
// by a dedicated per-category mutex so concurrent metered calls never
// race on the same pending balance (spec §5 "atomic metered
// deduction").
type UsageStore struct {
	mu       sync.RWMutex
	filePath string
	byToken  map[string]*Usage

	catLocksMu sync.Mutex
	catLocks   map[string]*sync.Mutex
}

// NewUsageStore opens (or creates) the JSON-backed usage store.
func NewUsageStore(filePath string) (*UsageStore, error) {
	s := &UsageStore{
		filePath: filePath,
		byToken:  make(map[string]*Usage),
		catLocks: make(map[string]*sync.Mutex),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load usage store: %w", err)
	}
	return s, nil
}

func (s *UsageStore) lockFor(category string) *sync.Mutex {
	s.catLocksMu.Lock()
	defer s.catLocksMu.Unlock()
	lock, ok := s.catLocks[category]
	if !ok {
		lock = &sync.Mutex{}
		s.catLocks[category] = lock
	}
	return lock
}

// RecordUsage admits a metered call against tokenCategory: it computes
// the effective balance (currentBalance − pendingSats), rejects with
// BalanceExhausted if the call's cost would drive it negative, and
// otherwise pushes the cost onto both the pending and lifetime totals
// and prepends it to the bounded recent-call log. Serialized per
// category so two concurrent calls against the same subscription can
// never both observe sufficient balance and jointly exceed it (spec
// §5 "atomic metered deduction").
func (s *UsageStore) RecordUsage(tokenCategory, contractAddress, apiPath, requestID string, currentBalance, costSats Sats, timestamp string) (Usage, error) {
	lock := s.lockFor(tokenCategory)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()

	usage, ok := s.byToken[tokenCategory]
	if !ok {
		usage = &Usage{
			TokenCategory:   tokenCategory,
			ContractAddress: contractAddress,
			PendingSats:     NewSats(0),
			TotalSats:       NewSats(0),
		}
		s.byToken[tokenCategory] = usage
	}

	effective := currentBalance.Sub(usage.PendingSats)
	if effective.Cmp(costSats) < 0 {
		s.mu.Unlock()
		return Usage{}, gwerrors.New(gwerrors.PaymentRequired, "metered balance exhausted").WithHint("BalanceExhausted")
	}

	usage.PendingSats = usage.PendingSats.Add(costSats)
	usage.TotalSats = usage.TotalSats.Add(costSats)
	usage.LastUsedAt = timestamp

	entry := CallEntry{Timestamp: timestamp, APIPath: apiPath, CostSats: costSats.Clone(), RequestID: requestID}
	usage.RecentCalls = append([]CallEntry{entry}, usage.RecentCalls...)
	if len(usage.RecentCalls) > MaxRecentCalls {
		usage.RecentCalls = usage.RecentCalls[:MaxRecentCalls]
	}

	result := cloneUsage(usage)
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return Usage{}, err
	}
	return result, nil
}

// ResetPendingSats subtracts claimedSats from the pending balance after
// a successful settlement claim, floored at zero (Sats.Sub's usual
// semantics), leaving the lifetime total and call log intact. Usage
// recorded after the claim's pending-balance snapshot was taken but
// before this call runs is preserved rather than discarded.
func (s *UsageStore) ResetPendingSats(tokenCategory string, claimedSats Sats) error {
	lock := s.lockFor(tokenCategory)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	usage, ok := s.byToken[tokenCategory]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	usage.PendingSats = usage.PendingSats.Sub(claimedSats)
	s.mu.Unlock()

	return s.persist()
}

// GetUsage returns the usage record for a token category, or an empty
// zero-valued record if none has been recorded yet.
func (s *UsageStore) GetUsage(tokenCategory string) Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	usage, ok := s.byToken[tokenCategory]
	if !ok {
		return Usage{TokenCategory: tokenCategory, PendingSats: NewSats(0), TotalSats: NewSats(0)}
	}
	return cloneUsage(usage)
}

// GetAllUsage returns every tracked usage record.
func (s *UsageStore) GetAllUsage() []Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Usage, 0, len(s.byToken))
	for _, usage := range s.byToken {
		result = append(result, cloneUsage(usage))
	}
	return result
}

// GetTotalPendingSats sums the pending balances of the given token
// categories; a category with no usage record adds nothing.
func (s *UsageStore) GetTotalPendingSats(categories []string) Sats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := NewSats(0)
	for _, category := range categories {
		if usage, ok := s.byToken[category]; ok {
			total = total.Add(usage.PendingSats)
		}
	}
	return total
}

func (s *UsageStore) load() error {
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
	var records map[string]*Usage
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	s.byToken = records
	return nil
}

func (s *UsageStore) persist() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := json.MarshalIndent(s.byToken, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	return os.Rename(tmpPath, s.filePath)
}

func cloneUsage(u *Usage) Usage {
	clone := *u
	clone.PendingSats = u.PendingSats.Clone()
	clone.TotalSats = u.TotalSats.Clone()
	clone.RecentCalls = append([]CallEntry{}, u.RecentCalls...)
	return clone
}
