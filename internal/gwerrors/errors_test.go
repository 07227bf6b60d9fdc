package gwerrors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := map[Kind]int{
		BadRequest:      http.StatusBadRequest,
		PaymentRequired: http.StatusPaymentRequired,
		Forbidden:       http.StatusForbidden,
		NotFound:        http.StatusNotFound,
		Conflict:        http.StatusConflict,
		Unauthorized:    http.StatusUnauthorized,
		ServerError:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.StatusCode())
	}
}

func TestWriteEnvelope(t *testing.T) {
	err := New(PaymentRequired, "balance exhausted").WithHint("top up the subscription").WithRequestID("req-1")
	rec := httptest.NewRecorder()
	err.Write(rec)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.JSONEq(t, `{"error":"balance exhausted","hint":"top up the subscription","requestId":"req-1"}`, rec.Body.String())
}

func TestIsKind(t *testing.T) {
	err := New(Conflict, "already cancelled")
	assert.True(t, IsKind(err, Conflict))
	assert.False(t, IsKind(err, NotFound))
	assert.False(t, IsKind(assert.AnError, Conflict))
}

func TestWrapUnwrap(t *testing.T) {
	cause := assert.AnError
	err := Wrap(ServerError, "settlement failed", cause)
	assert.ErrorIs(t, err, cause)
}
