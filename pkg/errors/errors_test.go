package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeMultiVendor, status: http.StatusBadRequest, publicMsg: "checkout supports a single restaurant at a time", detailsOK: true},
		{code: CodeQuoteFetch, status: http.StatusBadGateway, publicMsg: "could not fetch live pricing", retryable: true, detailsOK: true},
		{code: CodeCommit, status: http.StatusBadGateway, publicMsg: "order could not be placed", detailsOK: true},
		{code: CodeStaleQuote, status: http.StatusConflict, publicMsg: "pricing is out of date", retryable: true},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "backend unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("socket closed")
	err := Wrap(CodeQuoteFetch, cause, "calculate checkout")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive errors.Is")
	}
	if err.Code() != CodeQuoteFetch {
		t.Fatalf("expected code %s got %s", CodeQuoteFetch, err.Code())
	}
}

func TestAsFindsTypedErrorThroughChain(t *testing.T) {
	inner := New(CodeStaleQuote, "version mismatch")
	outer := Wrap(CodeQuoteFetch, inner, "refresh quote")

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeQuoteFetch {
		t.Fatalf("expected outermost code, got %s", typed.Code())
	}
	if !HasCode(outer, CodeQuoteFetch) {
		t.Fatal("HasCode should match outermost code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "empty cart").WithDetails(map[string]string{"field": "items"})
	details, ok := err.Details().(map[string]string)
	if !ok || details["field"] != "items" {
		t.Fatalf("unexpected details: %#v", err.Details())
	}
}
