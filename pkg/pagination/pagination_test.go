package pagination

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, MaxLimit + 1: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCursorRoundTripKeepsOrderIDs(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	encoded := EncodeCursor(Cursor{CreatedAt: at, ID: "ORD|77"})

	cursor, err := ParseCursor(encoded)
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if !cursor.CreatedAt.Equal(at) || cursor.ID != "ORD|77" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor("  "); c != nil || err != nil {
		t.Fatalf("blank cursor should be nil, got %v %v", c, err)
	}
	for _, bad := range []string{"%%%", raw("nope"), raw("2026-01-01T00:00:00Z|")} {
		if _, err := ParseCursor(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestCursorAfterOrdersNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := Cursor{CreatedAt: base, ID: "B"}

	if !c.After(base.Add(-time.Minute), "Z") {
		t.Fatalf("older records follow the cursor")
	}
	if c.After(base.Add(time.Minute), "A") {
		t.Fatalf("newer records precede the cursor")
	}
	if !c.After(base, "A") || c.After(base, "C") || c.After(base, "B") {
		t.Fatalf("ties must break on descending id")
	}
}

func raw(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
