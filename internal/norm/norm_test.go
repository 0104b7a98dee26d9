package norm

import (
	"strings"
	"testing"
)

func TestID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BCBS-CA", "BCBS_CA"},
		{"bcbs ca", "BCBS_CA"},
		{"a--b__c", "A_B_C"},
		{"__edge__", "EDGE"},
		{"already_ok", "ALREADY_OK"},
		{"***", ""},
		{"Aetna (West)", "AETNA_WEST"},
	}
	for _, tt := range tests {
		if got := ID(tt.in); got != tt.want {
			t.Errorf("ID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestISASender(t *testing.T) {
	if got := ISASender("BCBS-CA"); got != "BCBSCA" {
		t.Errorf("ISASender(BCBS-CA) = %q, want BCBSCA", got)
	}
	long := ISASender("A_VERY_LONG_PAYER_IDENTIFIER_NAME")
	if len(long) != 15 {
		t.Errorf("ISASender long input length = %d, want 15", len(long))
	}
	empty := ISASender("***")
	if !strings.HasPrefix(empty, "PAYER") || len(empty) != 9 {
		t.Errorf("ISASender empty input = %q, want PAYERdddd", empty)
	}
}
