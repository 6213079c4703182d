package models

import (
	"fmt"
	"time"
)

// DeliveryStatus is the result class of one dispatch
type DeliveryStatus string

// Delivery status constants
const (
	DeliverySent                DeliveryStatus = "SENT"
	DeliverySkippedMissingImage DeliveryStatus = "SKIPPED_MISSING_IMAGE"
	DeliveryFailed              DeliveryStatus = "FAILED"
)

// DeliveryOutcome is the per-record dispatch result
type DeliveryOutcome struct {
	Status    DeliveryStatus `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Attempts  int            `json:"attempts"`
}

// Sent builds a successful outcome
func Sent(messageID string, attempts int) DeliveryOutcome {
	return DeliveryOutcome{Status: DeliverySent, MessageID: messageID, Attempts: attempts}
}

// SkippedMissingImage builds the outcome for a record with no page-1 image
func SkippedMissingImage(reason string) DeliveryOutcome {
	return DeliveryOutcome{Status: DeliverySkippedMissingImage, Reason: reason}
}

// Failed builds a failed outcome carrying the reason
func Failed(reason string, attempts int) DeliveryOutcome {
	return DeliveryOutcome{Status: DeliveryFailed, Reason: reason, Attempts: attempts}
}

func (o DeliveryOutcome) String() string {
	if o.Reason == "" {
		return string(o.Status)
	}
	return fmt.Sprintf("%s(%s)", o.Status, o.Reason)
}

// RecordResult is everything a run learned about one roster row
type RecordResult struct {
	Row        int             `json:"row"`
	USN        string          `json:"usn"`
	Contact    string          `json:"contact"`
	Document   string          `json:"document,omitempty"`
	Images     []string        `json:"images,omitempty"`
	BuildError string          `json:"build_error,omitempty"`
	Outcome    DeliveryOutcome `json:"outcome"`
}

// Built reports whether the record produced a document and at least one image
func (r RecordResult) Built() bool {
	return r.BuildError == "" && len(r.Images) > 0
}

// RunSummary counts outcomes across a run
type RunSummary struct {
	Total         int `json:"total"`
	Sent          int `json:"sent"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	BuildFailures int `json:"build_failures"`
}

// RunResult is the aggregate result of one pipeline run
type RunResult struct {
	RunID      string         `json:"run_id"`
	Source     string         `json:"source"`
	State      string         `json:"state"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Records    []RecordResult `json:"records"`
}

// Summary counts the outcomes of the run
func (r *RunResult) Summary() RunSummary {
	s := RunSummary{Total: len(r.Records)}
	for _, rec := range r.Records {
		if rec.BuildError != "" {
			s.BuildFailures++
		}
		switch rec.Outcome.Status {
		case DeliverySent:
			s.Sent++
		case DeliverySkippedMissingImage:
			s.Skipped++
		case DeliveryFailed:
			s.Failed++
		}
	}
	return s
}

// Outcomes returns delivery outcomes keyed by USN
func (r *RunResult) Outcomes() map[string]DeliveryOutcome {
	out := make(map[string]DeliveryOutcome, len(r.Records))
	for _, rec := range r.Records {
		out[rec.USN] = rec.Outcome
	}
	return out
}
