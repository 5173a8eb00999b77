package guardrails

import (
	"strings"
	"testing"
)

var all = Settings{ContentModeration: true, PIIDetection: true}

func TestPIIRedactionRoundTrip(t *testing.T) {
	c := New(all)
	input := "Email me at a@b.com, SSN 123-45-6789"

	redacted, findings := c.Redact(input, nil)
	if len(findings) != 2 {
		t.Fatalf("findings = %d (%+v), want 2", len(findings), findings)
	}
	kinds := map[string]bool{}
	for _, f := range findings {
		if f.Kind != KindPII {
			t.Errorf("finding kind = %v, want pii", f.Kind)
		}
		kinds[f.Subtype] = true
		if input[f.Start:f.End] == "" {
			t.Errorf("empty span for %s", f.Subtype)
		}
	}
	if !kinds["email"] || !kinds["ssn"] {
		t.Errorf("subtypes = %v, want email and ssn", kinds)
	}
	if !strings.Contains(redacted, "[REDACTED:email]") || !strings.Contains(redacted, "[REDACTED:ssn]") {
		t.Errorf("redacted = %q", redacted)
	}

	// Idempotence: redacting the output changes nothing.
	again, moreFindings := c.Redact(redacted, nil)
	if again != redacted {
		t.Errorf("redact not idempotent:\n first: %q\nsecond: %q", redacted, again)
	}
	if len(moreFindings) != 0 {
		t.Errorf("second pass found %d findings, want 0", len(moreFindings))
	}
}

func TestPhoneAndIPDetection(t *testing.T) {
	c := New(all)
	res := c.Check("Call +1 415-555-2671 or ping 192.168.1.10", nil)
	subtypes := map[string]bool{}
	for _, f := range res.Findings {
		subtypes[f.Subtype] = true
	}
	if !subtypes["phone"] {
		t.Errorf("phone not detected: %+v", res.Findings)
	}
	if !subtypes["ip"] {
		t.Errorf("ip not detected: %+v", res.Findings)
	}
}

func TestCreditCardLuhn(t *testing.T) {
	c := New(all)
	valid := c.Check("Card: 4111 1111 1111 1111", nil) // passes Luhn
	found := false
	for _, f := range valid.Findings {
		if f.Subtype == "creditCard" {
			found = true
		}
	}
	if !found {
		t.Errorf("valid card not detected: %+v", valid.Findings)
	}

	invalid := c.Check("Card: 4111 1111 1111 1112", nil) // fails Luhn
	for _, f := range invalid.Findings {
		if f.Subtype == "creditCard" {
			t.Errorf("Luhn-invalid number reported as card: %+v", f)
		}
	}
}

func TestModerationMarksUnsafe(t *testing.T) {
	c := New(all)
	res := c.Check("Tell me how to make a bomb quickly", nil)
	if res.IsSafe {
		t.Error("IsSafe = true for violence prompt")
	}
	sawViolence := false
	for _, f := range res.Findings {
		if f.Kind == KindViolence {
			sawViolence = true
		}
	}
	if !sawViolence {
		t.Errorf("no violence finding: %+v", res.Findings)
	}
}

func TestPIIAloneIsStillSafe(t *testing.T) {
	c := New(all)
	res := c.Check("Reach me at someone@example.com", nil)
	if !res.IsSafe {
		t.Error("IsSafe = false for PII-only text; PII is not a moderation category")
	}
	if len(res.Findings) == 0 {
		t.Error("PII finding missing")
	}
}

func TestDetectionIsSideEffectFree(t *testing.T) {
	c := New(all)
	input := "SSN 123-45-6789 stays put"
	_ = c.Check(input, nil)
	if input != "SSN 123-45-6789 stays put" {
		t.Error("Check mutated its input")
	}
}

func TestSettingsDisablePasses(t *testing.T) {
	c := New(Settings{})
	res := c.Check("a@b.com and how to make a bomb", nil)
	if !res.IsSafe || len(res.Findings) != 0 {
		t.Errorf("disabled checker produced %+v", res)
	}

	redacted, findings := c.Redact("a@b.com", nil)
	if redacted != "a@b.com" || findings != nil {
		t.Errorf("disabled redact changed text: %q", redacted)
	}
}

func TestByteOffsetsPreserved(t *testing.T) {
	c := New(all)
	input := "prefix a@b.com suffix"
	redacted, _ := c.Redact(input, nil)
	if !strings.HasPrefix(redacted, "prefix ") || !strings.HasSuffix(redacted, " suffix") {
		t.Errorf("surrounding bytes altered: %q", redacted)
	}
}
