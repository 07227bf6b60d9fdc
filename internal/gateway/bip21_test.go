package gateway

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPaymentURIEncodesSchemeAmountAndNonce(t *testing.T) {
	uri := BuildPaymentURI("bchtest:qqabc123", 54600, "CashFlow402", "/api/weather", "", "nonce-1")

	require.True(t, strings.HasPrefix(uri, "bchtest:qqabc123?"))

	parsed, err := url.Parse(uri)
	require.NoError(t, err)
	require.Equal(t, "bchtest", parsed.Scheme)

	q, err := url.ParseQuery(parsed.RawQuery)
	require.NoError(t, err)
	require.Equal(t, "0.00054600", q.Get("amount"))
	require.Equal(t, "CashFlow402", q.Get("label"))
	require.Equal(t, "/api/weather", q.Get("message"))
	require.Equal(t, "nonce-1", q.Get("nonce"))
	require.Empty(t, q.Get("c"))
}

func TestBuildPaymentURIIncludesTokenCategoryWhenPresent(t *testing.T) {
	uri := BuildPaymentURI("bitcoincash:qqxyz", 20000, "", "", "cat123", "")
	parsed, err := url.Parse(uri)
	require.NoError(t, err)
	q, err := url.ParseQuery(parsed.RawQuery)
	require.NoError(t, err)
	require.Equal(t, "cat123", q.Get("c"))
	require.Equal(t, "0.00020000", q.Get("amount"))
}
