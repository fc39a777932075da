package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Intent is the conversational branch picked for one user turn.
type Intent string

const (
	IntentScheduling          Intent = "scheduling"
	IntentProductSearch       Intent = "product_or_service_search"
	IntentOrdering            Intent = "ordering"
	IntentPreviousSchedules   Intent = "previous_schedules"
	IntentGeneral             Intent = "general"
	IntentPreviousTickets     Intent = "previous_tickets"
	IntentHumanRepresentative Intent = "human_representative"
)

// SchedulingSlots carries the appointment fields extracted so far.
// DateTime is set whenever the extractor resolved a timestamp and is never
// defaulted.
type SchedulingSlots struct {
	ServiceType string     `json:"serviceType"`
	HasDate     bool       `json:"hasDate"`
	HasTime     bool       `json:"hasTime"`
	DateTime    *time.Time `json:"dateTime,omitempty"`
	Location    string     `json:"location,omitempty"`
}

// SearchSlots carries the extracted product search query.
type SearchSlots struct {
	Query string `json:"query"`
}

// OrderSlots carries the extracted order request.
type OrderSlots struct {
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Notes       string `json:"notes,omitempty"`
}

// IntentResult is a tagged union: Intent says which branch fired and only
// the slots for that branch are populated.
type IntentResult struct {
	Intent     Intent
	Scheduling *SchedulingSlots
	Search     *SearchSlots
	Order      *OrderSlots
}

// GeneralFallback is the result used whenever classification cannot be
// trusted. The engine answers conversationally instead of guessing a branch.
func GeneralFallback() IntentResult {
	return IntentResult{Intent: IntentGeneral}
}

// ClassificationError reports a model response that could not be decoded
// into a valid intent. The raw payload is kept for logging.
type ClassificationError struct {
	Reason string
	Raw    string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("conversation: classify intent: %s", e.Reason)
}

// rawIntentPayload mirrors the JSON contract the model is prompted to emit.
// Exactly one of the is* flags must be true.
type rawIntentPayload struct {
	IsScheduling             bool `json:"isScheduling"`
	IsProductOrServiceSearch bool `json:"isProductorServiceSearch"`
	IsOrdering               bool `json:"isOrdering"`
	IsPreviousSchedules      bool `json:"isPreviousSchedules"`
	IsGeneral                bool `json:"isGeneral"`
	IsPreviousTickets        bool `json:"isPreviousTickets"`
	IsHumanRepresentative    bool `json:"isHumanRepresentative"`

	ServiceType string `json:"serviceType"`
	HasDate     bool   `json:"hasDate"`
	HasTime     bool   `json:"hasTime"`
	DateTime    string `json:"dateTime"`
	Location    string `json:"location"`

	SearchQuery string `json:"searchQuery"`

	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Notes       string `json:"notes"`
}

// DecodeIntentResult parses the model's JSON classification. It strips
// markdown code fences, requires exactly one intent flag set, and validates
// branch slots. Any violation yields a ClassificationError.
func DecodeIntentResult(raw string) (IntentResult, error) {
	cleaned := stripCodeFences(raw)
	if cleaned == "" {
		return IntentResult{}, &ClassificationError{Reason: "empty response", Raw: raw}
	}

	var payload rawIntentPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return IntentResult{}, &ClassificationError{Reason: "invalid JSON: " + err.Error(), Raw: raw}
	}

	flags := []struct {
		set    bool
		intent Intent
	}{
		{payload.IsScheduling, IntentScheduling},
		{payload.IsProductOrServiceSearch, IntentProductSearch},
		{payload.IsOrdering, IntentOrdering},
		{payload.IsPreviousSchedules, IntentPreviousSchedules},
		{payload.IsGeneral, IntentGeneral},
		{payload.IsPreviousTickets, IntentPreviousTickets},
		{payload.IsHumanRepresentative, IntentHumanRepresentative},
	}

	var intent Intent
	count := 0
	for _, f := range flags {
		if f.set {
			intent = f.intent
			count++
		}
	}
	if count != 1 {
		return IntentResult{}, &ClassificationError{
			Reason: fmt.Sprintf("expected exactly one intent flag, got %d", count),
			Raw:    raw,
		}
	}

	result := IntentResult{Intent: intent}
	switch intent {
	case IntentScheduling:
		slots := &SchedulingSlots{
			ServiceType: strings.TrimSpace(payload.ServiceType),
			HasDate:     payload.HasDate,
			HasTime:     payload.HasTime,
			Location:    strings.TrimSpace(payload.Location),
		}
		// Keep any resolved timestamp, even from a partial turn like
		// "make it 2pm". A timestamp is never invented when absent.
		if payload.DateTime != "" {
			ts, err := time.Parse(time.RFC3339, payload.DateTime)
			if err != nil {
				return IntentResult{}, &ClassificationError{Reason: "invalid dateTime: " + err.Error(), Raw: raw}
			}
			slots.DateTime = &ts
		} else if payload.HasDate && payload.HasTime {
			return IntentResult{}, &ClassificationError{Reason: "date and time flagged but dateTime missing", Raw: raw}
		}
		result.Scheduling = slots
	case IntentProductSearch:
		result.Search = &SearchSlots{Query: strings.TrimSpace(payload.SearchQuery)}
	case IntentOrdering:
		qty := payload.Quantity
		if qty <= 0 {
			qty = 1
		}
		result.Order = &OrderSlots{
			ProductName: strings.TrimSpace(payload.ProductName),
			Quantity:    qty,
			Notes:       strings.TrimSpace(payload.Notes),
		}
	}
	return result, nil
}

// stripCodeFences removes a surrounding markdown code block, with or without
// a language tag, that models often wrap JSON in.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && !strings.HasPrefix(s, "{") {
		// Drop the language tag line, e.g. "json".
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
