package proto

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{TS: 1700000000123, ID: 42}

	encoded, err := EncodeCursor(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeCursor(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("cursor mismatch: got %+v want %+v", out, in)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("!!not-base64!!"); err == nil {
		t.Fatalf("expected error for invalid cursor")
	}
}

func TestValidKind(t *testing.T) {
	for _, kind := range []string{KindText, KindImage, KindVideo, KindLocation, KindSystem} {
		if !ValidKind(kind) {
			t.Fatalf("expected %q to be valid", kind)
		}
	}
	if ValidKind("sticker") {
		t.Fatalf("unexpected valid kind")
	}
}
