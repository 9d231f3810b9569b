package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainPayload separates payload hashes from any other hash the store
// may hold. The version suffix allows a future algorithm change.
const DomainPayload = "snapfs/payload/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash returns the content hash recorded next to
// last_applied_sequence. A redelivery with the same sequence but a
// different hash means the gateway reused a sequence number.
func PayloadHash(p Payload) (string, error) {
	canonical, err := MarshalPayload(p)
	if err != nil {
		return "", fmt.Errorf("payload hash: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}
