package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// CanonicalJSON re-encodes a JSON document with object keys sorted, so two
// logically equal inputs hash identically regardless of original key order.
func CanonicalJSON(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "canonicalize json")
	}
	// encoding/json marshals map keys in sorted order, which is exactly the
	// canonical form needed here.
	return json.Marshal(v)
}

// TaskIdempotencyKey derives a stable key for an agent-submitted task from
// the owning execution, the task kind and the canonicalized input. The same
// logical submission always maps to the same key, so retried agent turns
// reuse the original task row.
func TaskIdempotencyKey(execID, kind string, input []byte) (string, error) {
	canonical, err := CanonicalJSON(input)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(execID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
