package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestRegisteredCodeResolvesCategory(t *testing.T) {
	const code Code = "TEST_ITEM_MISSING"
	Register(code, Attributes{Message: "item missing", Severity: SeverityInfo, Category: CodeNotFound})

	err := fmt.Errorf("lookup: %w", New(code, "", WithMetadata("ref", "sku-1")))

	if got := CodeOf(err); got != code {
		t.Fatalf("unexpected code: %s", got)
	}
	if !IsCategory(err, CodeNotFound) {
		t.Fatalf("expected NOT_FOUND category, got %s", CategoryOf(err))
	}
	typed, ok := From(err)
	if !ok {
		t.Fatal("expected typed error")
	}
	if typed.Message() != "item missing" {
		t.Fatalf("expected default message, got %q", typed.Message())
	}
	if typed.Metadata()["ref"] != "sku-1" {
		t.Fatalf("unexpected metadata: %+v", typed.Metadata())
	}
}

func TestWrapKeepsCauseAndOverrides(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := Wrap(CodeExternalFailure, cause, "catalog unavailable", WithRetryable(false), WithSeverity(SeverityCritical))

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeExternalFailure, "")) {
		t.Fatal("expected code equality through errors.Is")
	}
	if RetryableError(err) {
		t.Fatal("expected retryable override to win")
	}
	if SeverityOf(err) != SeverityCritical {
		t.Fatalf("unexpected severity: %s", SeverityOf(err))
	}
	if CategoryOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors have no category")
	}
}
