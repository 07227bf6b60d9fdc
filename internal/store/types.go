// Package store implements the Subscription Store, Usage Meter, Plan
// Registry, and Nonce Store (spec §4.5-§4.8), backed by the teacher's
// write-then-rename JSON persistence pattern.
//
// Grounded on src/chainadapter/storage/file.go: mutex-guarded map,
// load-on-construct, persist-via-write-tmp-then-rename, defensive
// deep copy on read.
package store

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Sats is an arbitrary-precision satoshi amount, serialized as a
// decimal string in JSON per spec §9's "Big integers" note (BCH
// amounts routinely exceed 32 bits, so int64 alone would silently
// truncate on some platforms' JSON number handling).
type Sats struct {
	v *big.Int
}

// NewSats wraps an int64 sat amount.
func NewSats(v int64) Sats {
	return Sats{v: big.NewInt(v)}
}

// Int64 returns the amount as an int64, truncating if it somehow
// exceeds that range (never true for CashFlow402's actual values).
func (s Sats) Int64() int64 {
	if s.v == nil {
		return 0
	}
	return s.v.Int64()
}

// Add returns s + other.
func (s Sats) Add(other Sats) Sats {
	return Sats{v: new(big.Int).Add(s.orZero(), other.orZero())}
}

// Sub returns s - other, floored at zero.
func (s Sats) Sub(other Sats) Sats {
	diff := new(big.Int).Sub(s.orZero(), other.orZero())
	if diff.Sign() < 0 {
		return NewSats(0)
	}
	return Sats{v: diff}
}

// Cmp compares s to other: -1, 0, or 1.
func (s Sats) Cmp(other Sats) int {
	return s.orZero().Cmp(other.orZero())
}

// Clone returns a deep copy, safe to hand to a caller that may mutate
// the underlying big.Int.
func (s Sats) Clone() Sats {
	return Sats{v: new(big.Int).Set(s.orZero())}
}

func (s Sats) orZero() *big.Int {
	if s.v == nil {
		return big.NewInt(0)
	}
	return s.v
}

// MarshalJSON encodes the amount as a quoted decimal string.
func (s Sats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.orZero().String())
}

// UnmarshalJSON decodes either a quoted decimal string or a bare JSON
// number, tolerating both wire shapes.
func (s *Sats) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		v, ok := new(big.Int).SetString(asString, 10)
		if !ok {
			return fmt.Errorf("invalid sats value %q", asString)
		}
		s.v = v
		return nil
	}
	var asNumber int64
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf("invalid sats value: %w", err)
	}
	s.v = big.NewInt(asNumber)
	return nil
}

// SubscriptionStatus is the subscription lifecycle state, per spec §3.
type SubscriptionStatus string

const (
	StatusPendingFunding SubscriptionStatus = "pending_funding"
	StatusActive         SubscriptionStatus = "active"
	StatusCancelled      SubscriptionStatus = "cancelled"
	StatusExpired        SubscriptionStatus = "expired"
)

// Subscription is the primary entity, per spec §3.
type Subscription struct {
	ContractAddress   string             `json:"contractAddress"`
	TokenAddress      string             `json:"tokenAddress"`
	TokenCategory     string             `json:"tokenCategory"`
	MerchantPKH       string             `json:"merchantPKH"`
	SubscriberPKH     string             `json:"subscriberPKH"`
	MerchantAddress   string             `json:"merchantAddress"`
	SubscriberAddress string             `json:"subscriberAddress"`
	IntervalBlocks    int64              `json:"intervalBlocks"`
	AuthorizedSats    Sats               `json:"authorizedSats"`
	DepositSats       Sats               `json:"depositSats"`
	LastClaimBlock    int64              `json:"lastClaimBlock"`
	Balance           Sats               `json:"balance"`
	Status            SubscriptionStatus `json:"status"`
	PlanID            string             `json:"planId,omitempty"`
	CreatedAt         string             `json:"createdAt"`
	UpdatedAt         string             `json:"updatedAt"`
}

// IsPendingCategory reports whether tokenCategory is still a
// placeholder (unfunded) value, per spec §3.
func IsPendingCategory(category string) bool {
	return len(category) >= 8 && category[:8] == "pending_"
}

// CallEntry is one entry in a Usage record's bounded recent-call log.
type CallEntry struct {
	Timestamp string `json:"timestamp"`
	APIPath   string `json:"apiPath"`
	CostSats  Sats   `json:"costSats"`
	RequestID string `json:"requestId,omitempty"`
}

// MaxRecentCalls bounds the FIFO recent-call buffer, per spec §3.
const MaxRecentCalls = 100

// Usage is the per-subscription metering record, per spec §3.
type Usage struct {
	TokenCategory   string      `json:"tokenCategory"`
	ContractAddress string      `json:"contractAddress"`
	PendingSats     Sats        `json:"pendingSats"`
	TotalSats       Sats        `json:"totalSats"`
	RecentCalls     []CallEntry `json:"recentCalls"` // newest first
	LastUsedAt      string      `json:"lastUsedAt"`
}

// PlanStatus is a plan's lifecycle state, per spec §3.
type PlanStatus string

const (
	PlanActive   PlanStatus = "active"
	PlanPaused   PlanStatus = "paused"
	PlanArchived PlanStatus = "archived"
)

// Plan is a merchant-defined subscription plan, per spec §3.
type Plan struct {
	PlanID          string     `json:"planId"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	AuthorizedSats  Sats       `json:"authorizedSats"`
	IntervalBlocks  int64      `json:"intervalBlocks"`
	PerCallSats     Sats       `json:"perCallSats"`
	AllowedPaths    []string   `json:"allowedPaths"`
	MerchantAddress string     `json:"merchantAddress"`
	Status          PlanStatus `json:"status"`
	SubscriberCount int64      `json:"subscriberCount"`
}

// Nonce is a single-use per-call payment challenge, per spec §3/§4.8.
type Nonce struct {
	Nonce           string `json:"nonce"`
	MerchantAddress string `json:"merchantAddress"`
	AmountSats      Sats   `json:"amountSats"`
	APIPath         string `json:"apiPath"`
	ExpiresAt       int64  `json:"expiresAt"` // unix seconds
	Consumed        bool   `json:"consumed"`
}
