package identity

import (
	"encoding/json"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	var id ID
	id[0] = 0x42
	id[31] = 0x99

	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(id) {
		t.Fatalf("round trip mismatch: %s != %s", parsed, id)
	}

	if _, err := Parse("not-base58-0OIl"); err == nil {
		t.Fatal("invalid base58 should not parse")
	}
	if _, err := Parse("abc"); err == nil {
		t.Fatal("short input should not parse")
	}
}

func TestJSONEncoding(t *testing.T) {
	var id ID
	id[0] = 7

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(id) {
		t.Fatalf("json round trip mismatch: %s != %s", decoded, id)
	}
}

func TestIsZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Fatal("zero identity should report zero")
	}
	var id ID
	id[5] = 1
	if id.IsZero() {
		t.Fatal("non-zero identity should not report zero")
	}
}
