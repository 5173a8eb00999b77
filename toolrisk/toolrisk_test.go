package toolrisk

import (
	"testing"

	"github.com/jordanhubbard/cascade/provider"
)

func spec(name, desc string) provider.ToolSpec {
	return provider.ToolSpec{Name: name, Description: desc}
}

func TestClassifySpec(t *testing.T) {
	cases := []struct {
		name string
		desc string
		want Level
	}{
		{"get_weather", "read the current weather for a city", Low},
		{"search_docs", "search the documentation index", Low},
		{"delete_user", "permanently deletes a user account", Critical},
		{"make_payment", "initiates a payment to a vendor", Critical},
		{"transfer_funds", "transfer money between accounts", Critical},
		{"update_record", "update a row in the database", High},
		{"send_email", "send an email to a recipient", High},
		{"schedule_meeting", "schedule a calendar event", Medium},
		{"frobnicate", "does something unusual", Medium},
	}
	for _, tc := range cases {
		if got := ClassifySpec(spec(tc.name, tc.desc)); got != tc.want {
			t.Errorf("ClassifySpec(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestUnknownToolIsHighRisk(t *testing.T) {
	c := NewClassifier([]provider.ToolSpec{spec("get_weather", "read weather")})
	if got := c.Risk("invented_tool"); got != High {
		t.Errorf("Risk(unknown) = %v, want high", got)
	}
}

func TestForces(t *testing.T) {
	if Low.Forces() || Medium.Forces() {
		t.Error("low/medium must not force escalation")
	}
	if !High.Forces() || !Critical.Forces() {
		t.Error("high/critical must force escalation")
	}
}

func TestAnyForcing(t *testing.T) {
	c := NewClassifier([]provider.ToolSpec{
		spec("get_weather", "read weather"),
		spec("delete_user", "permanently deletes a user"),
	})
	safe := []provider.ToolCall{{ID: "1", Name: "get_weather"}}
	if c.AnyForcing(safe) {
		t.Error("AnyForcing = true for low-risk call")
	}
	mixed := []provider.ToolCall{
		{ID: "1", Name: "get_weather"},
		{ID: "2", Name: "delete_user"},
	}
	if !c.AnyForcing(mixed) {
		t.Error("AnyForcing = false with a critical call present")
	}
}
