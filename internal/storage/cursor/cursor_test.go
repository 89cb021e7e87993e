package cursor

import "testing"

func TestEncodeDecode(t *testing.T) {
	c := NewNextPageCursor(42, false, "action=a1|status=failed")
	token, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != c {
		t.Fatalf("Decode = %+v, want %+v", got, c)
	}
	if err := ValidateFilter(got, DirectionForward, "action=a1|status=failed"); err != nil {
		t.Fatalf("ValidateFilter: %v", err)
	}
	if err := ValidateFilter(got, DirectionForward, "action=a1"); err == nil {
		t.Fatal("expected error for changed filter")
	}
	if err := ValidateFilter(got, DirectionBackward, "action=a1|status=failed"); err == nil {
		t.Fatal("expected error for changed direction")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not base64", "%%%"},
		{"not json", "bm90LWpzb24"},
		{"bad direction", "eyJzZXEiOjEsImRpciI6InNpZGV3YXlzIn0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.token); err == nil {
				t.Fatalf("Decode(%q) expected error", tt.token)
			}
		})
	}
}

func TestHashFilter(t *testing.T) {
	if HashFilter("") != "" {
		t.Fatal("empty filter should hash to empty string")
	}
	if HashFilter("a") == HashFilter("b") {
		t.Fatal("different filters should hash differently")
	}
	if len(HashFilter("a")) != 16 {
		t.Fatalf("hash length = %d, want 16", len(HashFilter("a")))
	}
}
