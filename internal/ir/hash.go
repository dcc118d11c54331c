package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainState   = "modux/state/v1"
	DomainPayload = "modux/payload/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateHash returns the content hash of a state tree. Two trees with equal
// contents hash identically regardless of map iteration order.
func StateHash(state Value) (string, error) {
	canonical, err := MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("StateHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// PayloadHash returns the content hash of an action payload. Payloads that
// cannot be represented as values hash as an empty string.
func PayloadHash(payload any) string {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return ""
	}
	return hashWithDomain(DomainPayload, canonical)
}

// MustStateHash is like StateHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustStateHash(state Value) string {
	h, err := StateHash(state)
	if err != nil {
		panic(err)
	}
	return h
}
