// Package canonical produces a deterministic serialization of arbitrary
// payloads and fingerprints it with SHA3-256. Two payloads that differ only
// in key order or whitespace hash identically.
package canonical

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// Canonicalize renders v as compact JSON with object keys sorted ascending
// at every nesting level. Number literals pass through unchanged when v came
// from FingerprintJSON, so "1e3" and "1000" stay distinct.
func Canonicalize(v any) (string, error) {
	var b strings.Builder
	if err := writeValue(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Fingerprint returns the lowercase hex SHA3-256 of the canonical form of v,
// without a 0x prefix.
func Fingerprint(v any) (string, error) {
	s, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintJSON fingerprints a raw JSON document. Numbers are kept as
// their source literals rather than re-encoded through float64.
func FingerprintJSON(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	return Fingerprint(v)
}

func writeValue(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case bool:
		b.WriteString(strconv.FormatBool(t))
		return nil
	case string:
		return writeString(b, t)
	case json.Number:
		b.WriteString(t.String())
		return nil
	case decimal.Decimal:
		b.WriteString(t.String())
		return nil
	case int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int32:
		b.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
		return nil
	case uint64:
		b.WriteString(strconv.FormatUint(t, 10))
		return nil
	case float32, float64:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b.Write(enc)
		return nil
	case []any:
		return writeSlice(b, t)
	case map[string]any:
		return writeMap(b, t)
	}
	return writeReflected(b, v)
}

// writeReflected covers typed slices (e.g. []int64) and string-keyed maps
// that arrive from Go callers instead of decoded JSON.
func writeReflected(b *strings.Builder, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return writeSlice(b, items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("canonical: unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return writeMap(b, m)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("null")
			return nil
		}
		return writeValue(b, rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	}
	return fmt.Errorf("canonical: unsupported type %T", v)
}

func writeSlice(b *strings.Builder, items []any) error {
	b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeValue(b, item); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func writeMap(b *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeString(b, k); err != nil {
			return err
		}
		b.WriteByte(':')
		if err := writeValue(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeString(b *strings.Builder, s string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	b.WriteString(strings.TrimRight(buf.String(), "\n"))
	return nil
}
