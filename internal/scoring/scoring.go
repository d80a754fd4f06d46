// Package scoring reduces a session's event log to an integrity report.
//
// Scoring is presence based: each suspicious category contributes its weight
// once if at least one matching event exists, regardless of how many. This
// keeps the per-tick flooding of the object emitter and multiple-face check
// from dominating the score. [Score] is pure, total and order independent.
package scoring

import (
	"math"
	"time"

	"github.com/MrWong99/vigil/pkg/record"
)

// Category weights deducted from the maximum score.
const (
	MaxScore = 100

	WeightFocusLost        = 5
	WeightNoFace           = 5
	WeightMultipleFaces    = 10
	WeightRestrictedObject = 10
	WeightNotesOrBooks     = 10
)

// Result is the outcome of scoring one event log.
type Result struct {
	Counts    record.SuspiciousCounts
	Total     int
	Deduction int
	Score     int
}

// Score computes the presence-based integrity score of events. Event types
// that map to no category (looking_again, laptop_detected, user_speaking)
// are ignored.
func Score(events []record.Event) Result {
	var c record.SuspiciousCounts
	for _, e := range events {
		switch e.Type {
		case record.EventLookingAway:
			c.FocusLost = 1
		case record.EventNoFace:
			c.NoFace = 1
		case record.EventMultipleFaces:
			c.MultipleFaces = 1
		case record.EventPhoneDetected:
			c.RestrictedObject = 1
		case record.EventBookDetected, record.EventNotesDetected:
			c.NotesOrBooks = 1
		}
	}

	deduction := WeightFocusLost*c.FocusLost +
		WeightNoFace*c.NoFace +
		WeightMultipleFaces*c.MultipleFaces +
		WeightRestrictedObject*c.RestrictedObject +
		WeightNotesOrBooks*c.NotesOrBooks

	return Result{
		Counts:    c,
		Total:     c.Total(),
		Deduction: deduction,
		Score:     max(0, MaxScore-deduction),
	}
}

// BuildReport scores events for sess and assembles the persisted report.
// sess must have ended; the duration is measured from its start to its end
// and rounded to whole seconds.
func BuildReport(sess record.Session, events []record.Event, now time.Time) (record.Report, error) {
	digest, err := Digest(events)
	if err != nil {
		return record.Report{}, err
	}

	end := now
	if sess.EndTime != nil {
		end = *sess.EndTime
	}
	duration := math.Round(max(0, end.Sub(sess.StartTime).Seconds()))

	res := Score(events)
	return record.Report{
		SessionID:        sess.ID,
		CandidateName:    sess.CandidateName,
		CandidateEmail:   sess.CandidateEmail,
		Duration:         duration,
		TotalEvents:      res.Total,
		SuspiciousCounts: res.Counts,
		IntegrityScore:   res.Score,
		RawEventCount:    len(events),
		EventDigest:      digest,
		CreatedAt:        now,
		RecordingRef:     sess.RecordingRef,
	}, nil
}
