package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeMatchingThroughWrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("row not found")
	err := Wrap(CodeNotFound, cause, "checkout session cs_abc not found")

	if !stdErrors.Is(err, New(CodeNotFound, "")) {
		t.Fatalf("expected errors.Is match on code")
	}
	if CodeOf(err) != CodeNotFound {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected unwrap chain to reach cause")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeValidation, http.StatusBadRequest},
		{CodeInvalidState, http.StatusBadRequest},
		{CodeInsufficientInventory, http.StatusBadRequest},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeUpstreamUnavailable, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := HTTPStatusOf(New(tc.code, "")); got != tc.want {
			t.Fatalf("code %s: got status %d want %d", tc.code, got, tc.want)
		}
	}

	if got := HTTPStatusOf(fmt.Errorf("plain error")); got != http.StatusInternalServerError {
		t.Fatalf("plain errors should map to 500, got %d", got)
	}
}

func TestDefaultMessageAndMetadata(t *testing.T) {
	t.Parallel()

	err := New(CodeInsufficientInventory, "", WithMetadata("product_id", "prod_001"))
	if err.Message() != "insufficient inventory" {
		t.Fatalf("unexpected default message: %s", err.Message())
	}
	meta := err.Metadata()
	if meta["product_id"] != "prod_001" {
		t.Fatalf("metadata lost: %+v", meta)
	}

	meta["product_id"] = "mutated"
	if err.Metadata()["product_id"] != "prod_001" {
		t.Fatalf("metadata should be copied on read")
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	if Retryable(New(CodeValidation, "")) {
		t.Fatalf("validation errors are not retryable")
	}
	if !Retryable(New(CodeUpstreamUnavailable, "")) {
		t.Fatalf("upstream errors should be retryable")
	}
}
