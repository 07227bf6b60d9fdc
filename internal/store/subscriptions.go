package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cashflow402/gateway/internal/gwerrors"
)

// SubscriptionStore is the Subscription Store (spec §4.5): a
// JSON-file-persisted map of contract address to Subscription. It has
// no separate token-category index; GetByCategory scans the map.
// Grounded on
// src/chainadapter/storage/file.go's write-then-rename FileTxStore.
type SubscriptionStore struct {
	mu       sync.RWMutex
	filePath string
	byAddr   map[string]*Subscription
}

// NewSubscriptionStore opens (or creates) the JSON-backed subscription
// store at filePath.
func NewSubscriptionStore(filePath string) (*SubscriptionStore, error) {
	s := &SubscriptionStore{
		filePath: filePath,
		byAddr:   make(map[string]*Subscription),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load subscription store: %w", err)
	}
	return s, nil
}

// Add inserts a new subscription, keyed by its contract address.
func (s *SubscriptionStore) Add(sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAddr[sub.ContractAddress] = cloneSubscription(sub)
	return s.persist()
}

// GetByAddress looks up a subscription by contract address.
func (s *SubscriptionStore) GetByAddress(contractAddress string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byAddr[contractAddress]
	if !ok {
		return nil, gwerrors.New(gwerrors.NotFound, "subscription not found")
	}
	return cloneSubscription(sub), nil
}

// GetByCategory looks up a subscription by its CashToken category id.
// O(n) scan: the secondary index isn't load-bearing at CashFlow402's
// expected subscription counts.
func (s *SubscriptionStore) GetByCategory(category string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.byAddr {
		if sub.TokenCategory == category {
			return cloneSubscription(sub), nil
		}
	}
	return nil, gwerrors.New(gwerrors.NotFound, "subscription not found for category")
}

// GetAll returns every subscription, unordered.
func (s *SubscriptionStore) GetAll() ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Subscription, 0, len(s.byAddr))
	for _, sub := range s.byAddr {
		result = append(result, cloneSubscription(sub))
	}
	return result, nil
}

// GetByMerchant returns every subscription for a given merchant
// address, for the merchant dashboard (spec §6).
func (s *SubscriptionStore) GetByMerchant(merchantAddress string) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Subscription, 0)
	for _, sub := range s.byAddr {
		if sub.MerchantAddress == merchantAddress {
			result = append(result, cloneSubscription(sub))
		}
	}
	return result, nil
}

// Patch applies partial field updates, identified by contract address.
// mutate is invoked with the lock held so callers can make read-modify-
// write decisions atomically.
func (s *SubscriptionStore) Patch(contractAddress string, mutate func(sub *Subscription)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byAddr[contractAddress]
	if !ok {
		return gwerrors.New(gwerrors.NotFound, "subscription not found")
	}
	mutate(sub)
	sub.UpdatedAt = nowRFC3339()
	return s.persist()
}

// SetStatus transitions a subscription's lifecycle status.
func (s *SubscriptionStore) SetStatus(contractAddress string, status SubscriptionStatus) error {
	return s.Patch(contractAddress, func(sub *Subscription) {
		sub.Status = status
	})
}

// RecordClaim updates a subscription after a successful merchant
// claim: advances lastClaimBlock and resets the on-chain balance to
// the post-claim remainder.
func (s *SubscriptionStore) RecordClaim(contractAddress string, newLastClaimBlock int64, newBalance Sats) error {
	return s.Patch(contractAddress, func(sub *Subscription) {
		sub.LastClaimBlock = newLastClaimBlock
		sub.Balance = newBalance.Clone()
	})
}

// Remove deletes a subscription permanently. Cancellation does not
// remove the record; it only sets its status to cancelled.
func (s *SubscriptionStore) Remove(contractAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byAddr, contractAddress)
	return s.persist()
}

func (s *SubscriptionStore) load() error {
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
	var records map[string]*Subscription
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	s.byAddr = records
	return nil
}

func (s *SubscriptionStore) persist() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := json.MarshalIndent(s.byAddr, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	return os.Rename(tmpPath, s.filePath)
}

func cloneSubscription(sub *Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	clone := *sub
	clone.AuthorizedSats = sub.AuthorizedSats.Clone()
	clone.Balance = sub.Balance.Clone()
	return &clone
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
