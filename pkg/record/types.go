// Package record defines the durable records produced by a monitored session
// and the storage contracts that persist them.
//
// Three record kinds exist:
//
//   - [Session]: one monitored sitting, opened at start and closed at end.
//   - [Event]: an immutable, append-only integrity observation owned by
//     exactly one session.
//   - [Report]: the score derived from a session's events once it has ended.
//
// Events and reports never outlive their session; they are removed only by
// the cascading [Store.DeleteSession].
package record

import "time"

// EventType identifies the kind of integrity observation.
type EventType string

const (
	EventLookingAway    EventType = "looking_away"
	EventLookingAgain   EventType = "looking_again"
	EventNoFace         EventType = "no_face"
	EventMultipleFaces  EventType = "multiple_faces_detected"
	EventPhoneDetected  EventType = "phone_detected"
	EventBookDetected   EventType = "book_detected"
	EventLaptopDetected EventType = "laptop_detected"

	// EventNotesDetected is part of the taxonomy and counted by scoring, but
	// no detector currently produces it.
	EventNotesDetected EventType = "notes_detected"

	EventUserSpeaking EventType = "user_speaking"
)

// EventTypes lists every known event type in taxonomy order.
var EventTypes = []EventType{
	EventLookingAway,
	EventLookingAgain,
	EventNoFace,
	EventMultipleFaces,
	EventPhoneDetected,
	EventBookDetected,
	EventLaptopDetected,
	EventNotesDetected,
	EventUserSpeaking,
}

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DetectedType returns the event type emitted when an object with the given
// (already normalised) label is sighted, e.g. "phone" → phone_detected.
func DetectedType(label string) EventType {
	return EventType(label + "_detected")
}

// Session is one monitored sitting.
type Session struct {
	ID             string     `json:"id"`
	CandidateName  string     `json:"candidate_name"`
	CandidateEmail string     `json:"candidate_email"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`

	// RecordingRef is an opaque reference to the session recording held by
	// an external storage service. Empty when none was provided.
	RecordingRef string `json:"recording_ref,omitempty"`
}

// Ended reports whether the session has been closed.
func (s Session) Ended() bool { return s.EndTime != nil }

// Event is one integrity observation.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Duration is the debounce window in seconds for events that represent
	// a sustained condition (looking_away, no_face). Nil otherwise.
	Duration *float64 `json:"duration,omitempty"`

	// Details carries free-form detector context such as a face count,
	// classifier confidence, or audio level.
	Details map[string]any `json:"details,omitempty"`
}

// Seconds is a convenience for building [Event.Duration].
func Seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}

// SuspiciousCounts records which event categories were present in a
// session's log. Every field is 0 or 1: presence, not frequency.
type SuspiciousCounts struct {
	FocusLost        int `json:"focus_lost"`
	NoFace           int `json:"no_face"`
	MultipleFaces    int `json:"multiple_faces"`
	RestrictedObject int `json:"restricted_object"`
	NotesOrBooks     int `json:"notes_or_books"`
}

// Total returns the number of categories present.
func (c SuspiciousCounts) Total() int {
	return c.FocusLost + c.NoFace + c.MultipleFaces + c.RestrictedObject + c.NotesOrBooks
}

// Report is the scored summary of an ended session.
type Report struct {
	SessionID        string           `json:"session_id"`
	CandidateName    string           `json:"candidate_name,omitempty"`
	CandidateEmail   string           `json:"candidate_email,omitempty"`
	Duration         float64          `json:"duration"`
	TotalEvents      int              `json:"total_events"`
	SuspiciousCounts SuspiciousCounts `json:"suspicious_counts"`
	IntegrityScore   int              `json:"integrity_score"`

	// RawEventCount is the number of log events the score was computed from.
	RawEventCount int `json:"raw_event_count"`

	// EventDigest is a hex digest of the scored log, independent of event
	// order. Two reports with the same digest were computed from the same
	// events.
	EventDigest string `json:"event_digest"`

	CreatedAt time.Time `json:"created_at"`

	// RecordingRef is the recording reference of the session. Stores read it
	// from the session record rather than the saved report, so a reference
	// attached after scoring still shows up.
	RecordingRef string `json:"recording_ref,omitempty"`
}

// DeletePreview lists what a cascading delete of one session removes.
type DeletePreview struct {
	SessionID string `json:"session_id"`
	Events    int    `json:"events"`
	Reports   int    `json:"reports"`
}
