package ledger

import (
	"encoding/hex"
	"encoding/json"
	"strings"
)

// HashField reads a hash-valued event field under the first of keys that is
// present, accepting either a hex string or a raw byte vector, and returns it
// normalized to lowercase 0x-prefixed hex. The second return is false when no
// key yields a usable value. Keeping the decoding here means the matching
// logic never branches on the chain's event encoding.
func HashField(data map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := data[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				continue
			}
			return NormalizeHex(t), true
		case []byte:
			if len(t) == 0 {
				continue
			}
			return "0x" + hex.EncodeToString(t), true
		case []any:
			raw, ok := byteVector(t)
			if !ok {
				continue
			}
			return "0x" + hex.EncodeToString(raw), true
		}
	}
	return "", false
}

// NormalizeHex lowercases a hex string and ensures the 0x prefix.
func NormalizeHex(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if strings.HasPrefix(h, "0x") {
		return h
	}
	return "0x" + h
}

// SameHash compares two hex hashes ignoring case and 0x prefix.
func SameHash(a, b string) bool {
	return NormalizeHex(a) == NormalizeHex(b)
}

func byteVector(items []any) ([]byte, bool) {
	out := make([]byte, 0, len(items))
	for _, item := range items {
		var n int64
		switch t := item.(type) {
		case float64:
			n = int64(t)
		case json.Number:
			parsed, err := t.Int64()
			if err != nil {
				return nil, false
			}
			n = parsed
		default:
			return nil, false
		}
		if n < 0 || n > 255 {
			return nil, false
		}
		out = append(out, byte(n))
	}
	return out, true
}
