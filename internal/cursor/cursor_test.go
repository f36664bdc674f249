package cursor

import (
	"encoding/base64"
	"testing"
)

func TestOffsetCursorRoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 99, 123456} {
		cur := OffsetToCursor(offset)
		got, err := CursorToOffset(cur)
		if err != nil {
			t.Fatalf("CursorToOffset(%q): %v", cur, err)
		}
		if got != offset {
			t.Errorf("round trip: expected %d, got %d", offset, got)
		}
	}
}

func TestCursorToOffset_InvalidBase64(t *testing.T) {
	if _, err := CursorToOffset("not base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestCursorToOffset_WrongPrefix(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("something:5"))
	if _, err := CursorToOffset(raw); err == nil {
		t.Fatal("expected error for wrong prefix")
	}
}

func TestCursorToOffset_NonIntegerOffset(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("connection:abc"))
	if _, err := CursorToOffset(raw); err == nil {
		t.Fatal("expected error for non-integer offset")
	}
}

func TestCursorToOffset_NegativeOffset(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("connection:-1"))
	if _, err := CursorToOffset(raw); err == nil {
		t.Fatal("expected error for negative offset")
	}
}
