package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainTrace is the domain prefix for trace digests.
// The version suffix allows a future change of encoding.
const DomainTrace = "timeline/trace/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TraceDigest returns a stable identity for a trace.
// Two runs of the same score under the same fake time produce the same digest.
func TraceDigest(events []Event) (string, error) {
	data, err := MarshalTrace(events)
	if err != nil {
		return "", fmt.Errorf("TraceDigest: %w", err)
	}
	return hashWithDomain(DomainTrace, data), nil
}
