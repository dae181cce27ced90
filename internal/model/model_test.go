package model

import (
	"encoding/json"
	"regexp"
	"sort"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestNewIDSortsByCreation(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewID()
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("sequentially allocated ids are not lexically ordered")
	}
}

func TestStatusForOutcome(t *testing.T) {
	tests := []struct {
		outcome string
		want    string
	}{
		{OutcomeSuccess, StatusDone},
		{OutcomeFailed, StatusDone},
		{OutcomeCrash, StatusError},
		{OutcomeTimeout, StatusError},
		{OutcomeOverflow, StatusError},
		{OutcomeKilled, StatusError},
		{"unknown", StatusError},
	}
	for _, tt := range tests {
		if got := StatusForOutcome(tt.outcome); got != tt.want {
			t.Errorf("StatusForOutcome(%q) = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusWaiting, false},
		{StatusDone, true},
		{StatusError, true},
	}
	for _, tt := range tests {
		sub := &Submission{Status: tt.status}
		if got := sub.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOwnerSet(t *testing.T) {
	owners := OwnerSet{"alice", "bob"}
	if !owners.Contains("bob") {
		t.Error("Contains(bob) = false")
	}
	if owners.Contains("carol") {
		t.Error("Contains(carol) = true")
	}
	if owners.Primary() != "alice" {
		t.Errorf("Primary() = %q, want alice", owners.Primary())
	}
	if (OwnerSet{}).Primary() != "" {
		t.Error("empty set Primary() not empty")
	}
}

func TestInputStringRoundTrip(t *testing.T) {
	in := Input{}
	in.SetString(InputKeyUsername, "alice,bob")

	if got := in.GetString(InputKeyUsername); got != "alice,bob" {
		t.Errorf("GetString = %q, want alice,bob", got)
	}
	if got := in.GetString("absent"); got != "" {
		t.Errorf("GetString(absent) = %q, want empty", got)
	}

	// Non-string values read back as empty, not as an error.
	in["n"] = json.RawMessage("42")
	if got := in.GetString("n"); got != "" {
		t.Errorf("GetString(number) = %q, want empty", got)
	}
}

func TestInputFileAnswer(t *testing.T) {
	in := Input{}
	raw, _ := json.Marshal(FileAnswer{Filename: "sol.py", Value: []byte("print(1)")})
	in["q1"] = raw
	in.SetString("q2", "plain")

	f, ok := in.FileAnswer("q1")
	if !ok {
		t.Fatal("FileAnswer(q1) not recognized")
	}
	if f.Filename != "sol.py" || string(f.Value) != "print(1)" {
		t.Errorf("file = %+v", f)
	}

	if _, ok := in.FileAnswer("q2"); ok {
		t.Error("plain answer recognized as file")
	}
	if _, ok := in.FileAnswer("absent"); ok {
		t.Error("absent key recognized as file")
	}
}
