package models

import "testing"

func TestQuestionKindIsChoice(t *testing.T) {
	tests := []struct {
		kind   QuestionKind
		valid  bool
		choice bool
	}{
		{KindText, true, false},
		{KindDate, true, true},
		{KindList, true, true},
		{KindButtons, true, true},
		{QuestionKind("slider"), false, false},
	}
	for _, tt := range tests {
		if got := tt.kind.IsValid(); got != tt.valid {
			t.Errorf("%q.IsValid() = %v, want %v", tt.kind, got, tt.valid)
		}
		if got := tt.kind.IsChoice(); got != tt.choice {
			t.Errorf("%q.IsChoice() = %v, want %v", tt.kind, got, tt.choice)
		}
	}
}

func TestFindOption(t *testing.T) {
	options := []Option{
		{Label: "No", Value: "no"},
		{Label: "Yes", Value: "yes"},
	}
	tests := []struct {
		name  string
		raw   string
		want  string
		found bool
	}{
		{"value", "yes", "yes", true},
		{"label case-insensitive", "  NO ", "no", true},
		{"position", "2", "yes", true},
		{"position out of range", "3", "", false},
		{"zero position", "0", "", false},
		{"unknown", "maybe", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindOption(options, tt.raw)
			if ok != tt.found {
				t.Fatalf("FindOption(%q) found = %v, want %v", tt.raw, ok, tt.found)
			}
			if ok && got.Value != tt.want {
				t.Errorf("FindOption(%q) = %q, want %q", tt.raw, got.Value, tt.want)
			}
		})
	}
}

func TestSummaryRecordValue(t *testing.T) {
	r := SummaryRecord{Entries: []SummaryEntry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}}
	if v, ok := r.Value("b"); !ok || v != "2" {
		t.Errorf("Value(b) = %q, %v", v, ok)
	}
	if _, ok := r.Value("c"); ok {
		t.Error("Value(c) should be absent")
	}
	if keys := r.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestEventHasRole(t *testing.T) {
	e := Event{Roles: []string{"123", "456"}}
	if !e.HasRole("456") {
		t.Error("expected role 456")
	}
	if e.HasRole("789") {
		t.Error("did not expect role 789")
	}
}
