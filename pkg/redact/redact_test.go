package redact

import (
	"strings"
	"testing"
)

func TestRedactsWhenEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "reach me at jane.doe@example.com or +1 555-010-9999 thanks"
	out := Text(in)
	if !strings.Contains(out, "[REDACTED_EMAIL]") {
		t.Fatalf("expected email redaction in %q", out)
	}
	if !strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("expected phone redaction in %q", out)
	}
}

func TestPassThroughWhenDisabled(t *testing.T) {
	SetEnabled(false)
	in := "call me at +1 555-010-9999"
	if out := Text(in); out != in {
		t.Fatalf("expected pass-through, got %q", out)
	}
}
