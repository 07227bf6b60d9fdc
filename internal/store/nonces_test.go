package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNonceStoreStoreAndConsume(t *testing.T) {
	s := NewNonceStore()
	s.Store("nonce1", "bchtest:merchant", "/api/weather", NewSats(100))

	record, err := s.Consume("nonce1")
	require.NoError(t, err)
	require.Equal(t, "bchtest:merchant", record.MerchantAddress)
}

func TestNonceStoreCannotConsumeTwice(t *testing.T) {
	s := NewNonceStore()
	s.Store("nonce1", "bchtest:merchant", "/api/weather", NewSats(100))

	_, err := s.Consume("nonce1")
	require.NoError(t, err)
	_, err = s.Consume("nonce1")
	require.Error(t, err)
}

func TestNonceStoreExpiresAfterTTL(t *testing.T) {
	s := NewNonceStore()
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fakeNow }
	s.Store("nonce1", "bchtest:merchant", "/api/weather", NewSats(100))

	fakeNow = fakeNow.Add(NonceTTL + time.Second)
	_, err := s.Consume("nonce1")
	require.Error(t, err)
}

func TestNonceStoreUnknownNonceRejected(t *testing.T) {
	s := NewNonceStore()
	_, err := s.Consume("never-issued")
	require.Error(t, err)
}
