package store

import (
	"sync"
	"time"

	"github.com/cashflow402/gateway/internal/gwerrors"
)

// NonceTTL is how long an issued per-call payment challenge stays
// valid before it's swept, per spec §4.8.
const NonceTTL = 120 * time.Second

// NonceStore is the Nonce Store (spec §4.8): a purely in-memory,
// mutex-guarded map of single-use per-call payment challenges. Unlike
// SubscriptionStore/UsageStore/PlanStore it is never persisted to
// disk — nonces outlive nothing beyond process restart by design,
// matching the ephemeral-challenge semantics the spec requires.
type NonceStore struct {
	mu     sync.Mutex
	nonces map[string]*Nonce
	nowFn  func() time.Time
}

// NewNonceStore constructs an empty nonce store.
func NewNonceStore() *NonceStore {
	return &NonceStore{
		nonces: make(map[string]*Nonce),
		nowFn:  time.Now,
	}
}

// Store registers a freshly issued nonce, expiring NonceTTL from now.
func (s *NonceStore) Store(nonce, merchantAddress, apiPath string, amountSats Sats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.nonces[nonce] = &Nonce{
		Nonce:           nonce,
		MerchantAddress: merchantAddress,
		AmountSats:      amountSats.Clone(),
		APIPath:         apiPath,
		ExpiresAt:       s.nowFn().Add(NonceTTL).Unix(),
	}
}

// Get looks up a nonce without consuming it.
func (s *NonceStore) Get(nonce string) (*Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.nonces[nonce]
	if !ok || s.expired(record) {
		return nil, gwerrors.New(gwerrors.NotFound, "nonce not found or expired")
	}
	clone := *record
	return &clone, nil
}

// Consume atomically marks a nonce used and returns it, failing if it
// was already consumed, never issued, or has expired — the
// replay-prevention gate spec §4.8/§5 requires for per-call payments.
func (s *NonceStore) Consume(nonce string) (*Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.nonces[nonce]
	if !ok || s.expired(record) {
		return nil, gwerrors.New(gwerrors.PaymentRequired, "nonce not found or expired").WithHint("RequestNewChallenge")
	}
	if record.Consumed {
		return nil, gwerrors.New(gwerrors.Conflict, "nonce already used").WithHint("RequestNewChallenge")
	}
	record.Consumed = true
	clone := *record
	return &clone, nil
}

func (s *NonceStore) expired(record *Nonce) bool {
	return s.nowFn().Unix() > record.ExpiresAt
}

// sweepLocked evicts expired entries. Called lazily on Store rather
// than on a background timer, per spec §4.8's "lazy sweep" note.
func (s *NonceStore) sweepLocked() {
	now := s.nowFn().Unix()
	for key, record := range s.nonces {
		if now > record.ExpiresAt {
			delete(s.nonces, key)
		}
	}
}
