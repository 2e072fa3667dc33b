package inspection

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CanonicalHash returns the SHA-256 hex digest of v's canonical JSON
// encoding: sorted object keys, no indentation, no HTML escaping. Go's
// encoding/json already sorts map keys on marshal, so the only departure
// from the default encoder is disabling HTML escaping of the payload's
// opaque bytes, which would otherwise rewrite characters the governance
// ledger's own hash computation does not rewrite.
func CanonicalHash(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:])
}
