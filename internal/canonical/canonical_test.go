package canonical

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCanonicalizeSortsKeysRecursively(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"b": map[string]any{"z": 1, "a": 2},
		"a": "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":"x","b":{"a":2,"z":1}}`
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestFingerprintIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := []byte(`{"symbol":"BTCUSDT","side":"LONG","entry":61250.5,"meta":{"tf":"4h","rr":2.5}}`)
	b := []byte(`{
		"meta": {"rr": 2.5, "tf": "4h"},
		"entry": 61250.5,
		"side": "LONG",
		"symbol": "BTCUSDT"
	}`)
	ha, err := FingerprintJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := FingerprintJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("hashes differ: %s vs %s", ha, hb)
	}
	if len(ha) != 64 || strings.HasPrefix(ha, "0x") {
		t.Fatalf("unexpected hash format: %s", ha)
	}
}

func TestFingerprintChangesWithValues(t *testing.T) {
	ha, _ := FingerprintJSON([]byte(`{"symbol":"BTCUSDT","entry":100}`))
	hb, _ := FingerprintJSON([]byte(`{"symbol":"BTCUSDT","entry":101}`))
	if ha == hb {
		t.Fatal("different payloads hashed identically")
	}
}

func TestFingerprintJSONKeepsNumberLiterals(t *testing.T) {
	ha, _ := FingerprintJSON([]byte(`{"n":1e3}`))
	hb, _ := FingerprintJSON([]byte(`{"n":1000}`))
	if ha == hb {
		t.Fatal("distinct number literals collapsed")
	}
}

func TestCanonicalizeTypedValues(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"followers":  []int64{3, 7, 11},
		"size_value": decimal.RequireFromString("1.250"),
		"signal_id":  uint64(42),
	})
	if err != nil {
		t.Fatal(err)
	}
	// Decimal renders trimmed, slices keep caller order.
	want := `{"followers":[3,7,11],"signal_id":42,"size_value":1.25}`
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestCanonicalizeDoesNotEscapeHTML(t *testing.T) {
	got, err := Canonicalize(map[string]any{"note": "a<b&c>d"})
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"note":"a<b&c>d"}` {
		t.Fatalf("got %s", got)
	}
}
