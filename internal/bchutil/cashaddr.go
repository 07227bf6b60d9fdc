package bchutil

import "strings"

// CashAddr type-field values. PKH/SCH are the ordinary P2PKH/P2SH
// types; TokenPKH/TokenSCH additionally carry the cash-address bit
// that signals the address accepts CashToken outputs (CHIP-2022-02),
// which gcash/bchutil's address types — the version available in this
// pack — do not expose a constructor for. Hand-rolled here against the
// published CashAddr algorithm so the Covenant Layer can derive a
// distinct token-receiving address deterministically.
const (
	cashaddrTypePKH      = 0
	cashaddrTypeSCH      = 1
	cashaddrTypeTokenPKH = 2
	cashaddrTypeTokenSCH = 3
)

var cashaddrCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// EncodeCashAddr encodes a 160-bit hash as a CashAddr string of the
// given type, for the given network ("chipnet" uses the "bchtest"
// prefix; "mainnet" uses "bitcoincash").
func EncodeCashAddr(hash160 []byte, addrType int, network string) string {
	prefix := "bchtest"
	if network == "mainnet" {
		prefix = "bitcoincash"
	}

	versionByte := byte(addrType << 3) // size bits are 0 for a 160-bit hash
	payload := append([]byte{versionByte}, hash160...)

	fiveBit := convertBits(payload, 8, 5, true)
	checksum := polymodChecksum(prefix, fiveBit)
	combined := append(fiveBit, checksum...)

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte(':')
	for _, v := range combined {
		sb.WriteByte(cashaddrCharset[v])
	}
	return sb.String()
}

// ScriptHashTokenAddress derives the token-aware P2SH address for a
// redeem script: the same underlying hash160 as the plain contract
// address, but tagged with the CashToken-acceptance type bit so
// wallets know to attach a CashToken output when funding it.
func ScriptHashTokenAddress(redeemScript []byte, network string) string {
	hash := Hash160(redeemScript)
	return EncodeCashAddr(hash[:], cashaddrTypeTokenSCH, network)
}

// ScriptHashAddress derives the plain (non-token) P2SH address for a
// redeem script.
func ScriptHashAddress(redeemScript []byte, network string) string {
	hash := Hash160(redeemScript)
	return EncodeCashAddr(hash[:], cashaddrTypeSCH, network)
}

func convertBits(data []byte, fromBits, toBits uint, pad bool) []byte {
	acc := uint32(0)
	bits := uint(0)
	var ret []byte
	maxv := uint32(1<<toBits) - 1
	for _, value := range data {
		acc = (acc << fromBits) | uint32(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}
	if pad && bits > 0 {
		ret = append(ret, byte((acc<<(toBits-bits))&maxv))
	}
	return ret
}

func polymod(values []byte) uint64 {
	chk := uint64(1)
	generator := [5]uint64{0x98f2bc8e61, 0x79b76d99e2, 0xf33e5fb3c4, 0xae2eabe2a8, 0x1e4f43e470}
	for _, v := range values {
		top := chk >> 35
		chk = ((chk & 0x07ffffffff) << 5) ^ uint64(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= generator[i]
			}
		}
	}
	return chk
}

func polymodChecksum(prefix string, payload []byte) []byte {
	expanded := make([]byte, 0, len(prefix)+1+len(payload)+8)
	for _, c := range prefix {
		expanded = append(expanded, byte(c)&0x1f)
	}
	expanded = append(expanded, 0)
	expanded = append(expanded, payload...)
	expanded = append(expanded, make([]byte, 8)...)

	mod := polymod(expanded) ^ 1

	checksum := make([]byte, 8)
	for i := 0; i < 8; i++ {
		checksum[i] = byte((mod >> uint(5*(7-i))) & 0x1f)
	}
	return checksum
}
