package ledger

import "testing"

func TestHashField_HexString(t *testing.T) {
	data := map[string]any{"intent_hash": "0xABCDEF01"}
	got, ok := HashField(data, "intent_hash", "hash_bytes")
	if !ok {
		t.Fatalf("expected a value")
	}
	if got != "0xabcdef01" {
		t.Fatalf("got=%s", got)
	}
}

func TestHashField_UnprefixedHex(t *testing.T) {
	data := map[string]any{"intent_hash": "ff00"}
	got, ok := HashField(data, "intent_hash")
	if !ok || got != "0xff00" {
		t.Fatalf("got=%s ok=%v", got, ok)
	}
}

func TestHashField_ByteVectorFallbackKey(t *testing.T) {
	data := map[string]any{"hash_bytes": []any{float64(171), float64(205)}}
	got, ok := HashField(data, "intent_hash", "hash_bytes")
	if !ok {
		t.Fatalf("expected a value")
	}
	if got != "0xabcd" {
		t.Fatalf("got=%s", got)
	}
}

func TestHashField_Absent(t *testing.T) {
	data := map[string]any{"other": "0xff", "bad_vector": []any{"x"}}
	if got, ok := HashField(data, "intent_hash", "bad_vector"); ok {
		t.Fatalf("expected absent, got %s", got)
	}
}

func TestSameHash(t *testing.T) {
	if !SameHash("0xABC1", "abc1") {
		t.Fatalf("expected equal")
	}
	if SameHash("0xabc1", "0xabc2") {
		t.Fatalf("expected different")
	}
}

func TestSimulatedExecutionTx_DeterministicAndBounded(t *testing.T) {
	a := SimulatedExecutionTx("0xdeadbeefdeadbeefdeadbeefdeadbeef")
	b := SimulatedExecutionTx("0xdeadbeefdeadbeefdeadbeefdeadbeef")
	if a != b {
		t.Fatalf("not deterministic: %s vs %s", a, b)
	}
	if a != "0xSIM_deadbeefdeadbeefdeadbeef" {
		t.Fatalf("got=%s", a)
	}
}
