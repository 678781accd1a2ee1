package broker

import (
	"errors"
	"testing"
)

func TestConfigurationError_MessageWithAndWithoutValid(t *testing.T) {
	withValid := &ConfigurationError{Field: "page_size", Got: "0", Valid: []string{"1..100000"}}
	if msg := withValid.Error(); msg == "" {
		t.Fatal("expected a non-empty message")
	}

	noValid := &ConfigurationError{Field: "page_size", Got: "0"}
	if msg := noValid.Error(); msg == "" {
		t.Fatal("expected a non-empty message")
	}
}

func TestNetworkError_Unwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &NetworkError{URL: "https://example.org", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestParseError_Unwraps(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := &ParseError{Context: "directory listing", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestStoreError_Unwraps(t *testing.T) {
	cause := errors.New("database is locked")
	err := &StoreError{Op: "insert_items", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestUpstreamError_IncludesStatusAndBody(t *testing.T) {
	err := &UpstreamError{StatusCode: 503, Body: "maintenance"}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty message")
	}
}
