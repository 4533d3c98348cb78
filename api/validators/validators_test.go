package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
)

func TestSanitizeStringCountsRunes(t *testing.T) {
	if got := SanitizeString("  شارع التسعين  ", 5); got != "شارع" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := SanitizeString(" maadi ", 0); got != "maadi" {
		t.Fatalf("expected trim only, got %q", got)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=7&bad=x&big=500", nil)

	if v, err := ParseQueryInt(req, "limit", 25, 1, 100); err != nil || v != 7 {
		t.Fatalf("expected 7, got %d %v", v, err)
	}
	if v, err := ParseQueryInt(req, "missing", 25, 1, 100); err != nil || v != 25 {
		t.Fatalf("expected default, got %d %v", v, err)
	}
	for _, key := range []string{"bad", "big"} {
		if _, err := ParseQueryInt(req, key, 25, 1, 100); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
			t.Fatalf("expected validation error for %s, got %v", key, err)
		}
	}
}

type sampleBody struct {
	Code  string `json:"code" validate:"required,max=8"`
	Count int    `json:"count" validate:"min=1"`
}

func TestDecodeJSONBody(t *testing.T) {
	decode := func(body string) error {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var dst sampleBody
		return DecodeJSONBody(req, &dst)
	}

	if err := decode(`{"code":"SAVE10","count":2}`); err != nil {
		t.Fatalf("valid body rejected: %v", err)
	}
	if err := decode(`{"code":"SAVE10","count":2,"price":1}`); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("unknown field must be rejected, got %v", err)
	}

	err := decode(`{"count":0}`)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok || details["code"] != "is required" || details["count"] != "must be at least 1" {
		t.Fatalf("unexpected details %#v", typed.Details())
	}
}
