// Package models defines the core data structures for TourneyPipe.
//
// It includes question definitions, inbound platform events, outgoing messages and
// the summary records produced by the setup wizard, which are shared across modules.
package models

import (
	"errors"
	"strings"
)

// QuestionKind defines how a question is rendered and how its answer is extracted.
type QuestionKind string

const (
	// KindText asks for a free-text reply.
	KindText QuestionKind = "text"
	// KindDate presents a single-select list of calendar dates.
	KindDate QuestionKind = "date"
	// KindList presents a single-select list of options.
	KindList QuestionKind = "list"
	// KindButtons presents a small set of mutually exclusive buttons.
	KindButtons QuestionKind = "buttons"
)

// IsValid reports whether k is a known question kind.
func (k QuestionKind) IsValid() bool {
	switch k {
	case KindText, KindDate, KindList, KindButtons:
		return true
	default:
		return false
	}
}

// IsChoice reports whether answers to k are picked from options.
func (k QuestionKind) IsChoice() bool {
	return k == KindDate || k == KindList || k == KindButtons
}

// Limits imposed by chat platforms on choice prompts.
const (
	// MaxSelectOptions is the largest number of options a select list may carry.
	MaxSelectOptions = 25
	// MaxButtons is the largest number of buttons in a single row.
	MaxButtons = 5
	// MaxOptionLabelLength is the longest label a select option may have.
	MaxOptionLabelLength = 100
)

// Option is a labelled selectable value. Label is what the user sees, Value is what is recorded.
type Option struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// QuestionSpec is one immutable entry of the question registry.
type QuestionSpec struct {
	Key    string       `json:"key"`
	Kind   QuestionKind `json:"kind"`
	Prompt string       `json:"prompt"`
	// Options holds the static choices; empty when Source is set.
	Options []Option `json:"options,omitempty"`
	// Source names a dynamic option generator (e.g. "dates", "hours").
	Source string `json:"source,omitempty"`
	// MinDateFrom names an earlier date question that bounds this date question.
	MinDateFrom string `json:"min_date_from,omitempty"`
	// InitiallySkipped questions are bypassed unless a rule un-skips them.
	InitiallySkipped bool   `json:"skip,omitempty"`
	Group            string `json:"group,omitempty"`
}

// FindOption matches raw against the option values, labels and 1-based positions.
// Matching is case-insensitive and ignores surrounding whitespace.
func FindOption(options []Option, raw string) (Option, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Option{}, false
	}
	for _, o := range options {
		if strings.EqualFold(o.Value, raw) || strings.EqualFold(o.Label, raw) {
			return o, true
		}
	}
	if n, ok := parsePosition(raw); ok && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	return Option{}, false
}

func parsePosition(s string) (int, bool) {
	if len(s) == 0 || len(s) > 3 {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// Error variables for session lifecycle, validation and delivery failures.
var (
	ErrUnauthorized     = errors.New("actor lacks the permission required to run setup")
	ErrAlreadyActive    = errors.New("a setup session is already active for this user")
	ErrNoActiveSession  = errors.New("no active setup session for this user")
	ErrValidationFailed = errors.New("answer failed validation")
	ErrTimeout          = errors.New("no answer within the allowed time")
	ErrDeliveryFailure  = errors.New("message delivery failed")
	ErrUnknownQuestion  = errors.New("unknown question key")
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrEmptyBody        = errors.New("message body cannot be empty")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
