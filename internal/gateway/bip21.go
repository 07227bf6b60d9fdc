package gateway

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// BuildPaymentURI constructs a BIP-21 payment URI per spec §6:
// `<scheme>:<address>?amount=<BCH as decimal with 8 places>&label=<…>
// &message=<…>&c=<tokenCategory?>&nonce=<nonce?>`. Scheme is taken
// from the address's own cashaddr prefix (`bitcoincash` or `bchtest`).
func BuildPaymentURI(address string, amountSats int64, label, message, tokenCategory, nonce string) string {
	scheme, bare := splitCashAddr(address)

	amountBCH := decimal.New(amountSats, -8).StringFixed(8)

	q := url.Values{}
	q.Set("amount", amountBCH)
	if label != "" {
		q.Set("label", label)
	}
	if message != "" {
		q.Set("message", message)
	}
	if tokenCategory != "" {
		q.Set("c", tokenCategory)
	}
	if nonce != "" {
		q.Set("nonce", nonce)
	}

	uri := bare + "?" + q.Encode()
	if scheme != "" {
		uri = scheme + ":" + uri
	}
	return uri
}

func splitCashAddr(address string) (scheme, bare string) {
	if idx := strings.IndexByte(address, ':'); idx >= 0 {
		return address[:idx], address[idx+1:]
	}
	return "", address
}
