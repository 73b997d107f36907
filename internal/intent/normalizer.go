// Package intent implements C2, the intent normalizer: it maps free text
// to a canonical entities.ReminderIntent. Patterns are modeled as an
// ordered table of tagged variants — the same "priority cascade, first
// match wins" shape the teacher uses in
// internal/service/reminders.go's selectNameForReminder, generalized from
// name selection to pattern selection (spec.md §9).
package intent

import (
	"regexp"
	"strings"
	"time"

	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/timeparse"
)

// Fallback is the narrow collaborator interface for the optional
// LLM-assisted fallback (spec.md §4.2). It is gated and validated
// regardless of which implementation is plugged in.
type Fallback interface {
	Suggest(text string) (FallbackResult, error)
}

// FallbackResult is the strict JSON schema the fallback must return.
type FallbackResult struct {
	IntentType     string
	Action         string
	Payload        map[string]string
	Confidence     float64
	MissingFields  []string
}

// NullFallback is the default Fallback: it never proposes anything, so the
// caller always falls back to a clarification rather than silent action.
type NullFallback struct{}

func (NullFallback) Suggest(string) (FallbackResult, error) {
	return FallbackResult{}, nil
}

var actionKeywords = []string{
	"remind", "reminder", "schedule", "goal", "remember", "set", "create", "add", "make", "help me",
}

var negativePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^i (already )?(set|created) a reminder`),
	regexp.MustCompile(`^how do reminders work`),
	regexp.MustCompile(`^/`),
}

// Normalizer maps text to a ReminderIntent.
type Normalizer struct {
	fallback        Fallback
	fallbackEnabled bool
	patterns        []pattern
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithFallback enables the LLM-assisted fallback described in spec.md §4.2.
func WithFallback(f Fallback) Option {
	return func(n *Normalizer) {
		n.fallback = f
		n.fallbackEnabled = true
	}
}

// New builds a Normalizer with the deterministic pattern table installed.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{fallback: NullFallback{}}
	n.patterns = buildPatterns()
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize implements C2's contract: normalize(text, now, tz) -> intent|nil.
func (n *Normalizer) Normalize(text string, now time.Time, loc *time.Location) *entities.ReminderIntent {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" || !isASCIIMostly(norm) {
		return nil
	}
	norm = fixTypos(norm)

	for _, re := range negativePatterns {
		if re.MatchString(norm) {
			return nil
		}
	}

	for _, p := range n.patterns {
		if m := p.match(norm); m != nil {
			intent := p.build(*m, now, loc)
			applySanityGates(&intent, now)
			return &intent
		}
	}

	if n.fallbackEnabled && hasActionKeyword(norm) {
		if res, err := n.fallback.Suggest(text); err == nil {
			if intent := acceptFallback(res, now, loc); intent != nil {
				applySanityGates(intent, now)
				return intent
			}
		}
	}

	return nil
}

func hasActionKeyword(text string) bool {
	for _, kw := range actionKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// acceptFallback implements the acceptance gate of spec.md §4.2: JSON must
// already have parsed into FallbackResult by the caller; here we check (b)
// ASCII-only, (c) confidence >= 0.85, (d) missing_fields empty, (e)
// intent_type/action not the sentinel "unknown"/"noop" values.
func acceptFallback(res FallbackResult, now time.Time, loc *time.Location) *entities.ReminderIntent {
	if res.IntentType == "" {
		return nil
	}
	if !isASCIIMostly(res.IntentType) || !isASCIIMostly(res.Action) {
		return nil
	}
	if res.Confidence < 0.85 {
		return nil
	}
	if len(res.MissingFields) > 0 {
		return nil
	}
	if res.IntentType == "unknown" || res.Action == "noop" {
		return nil
	}
	msg := res.Payload["message"]
	if msg == "" {
		return nil
	}
	var dueAt *time.Time
	if when, ok := res.Payload["due_at"]; ok && when != "" {
		if parsed, err := timeparse.Parse(when, now, loc); err == nil && parsed.At != nil {
			dueAt = parsed.At
		}
	}
	return &entities.ReminderIntent{
		IntentType: "reminder.create",
		Message:    msg,
		DueAt:      dueAt,
		Timezone:   loc.String(),
		Channels:   entities.NormalizeChannels(nil),
		Priority:   5,
		Confidence: res.Confidence,
	}
}

func isASCIIMostly(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}

// applySanityGates implements spec.md §4.2 "Sanity gates applied before
// producing a non-null intent".
func applySanityGates(intent *entities.ReminderIntent, now time.Time) {
	if intent.DueAt != nil {
		if intent.DueAt.Before(now) {
			intent.NeedsClarification = true
			if intent.ClarifyingQuestion == "" {
				intent.ClarifyingQuestion = "That time has already passed — when would you like to be reminded instead?"
			}
			// due_at is left unchanged so the caller can show what was rejected.
		} else if intent.DueAt.Sub(now) > 365*24*time.Hour {
			intent.ParsedPartial.Warning = "far_future"
		}
	}
	if intent.Priority == 0 {
		intent.Priority = 5
	}
	if p, changed := entities.ClampPriority(intent.Priority); changed {
		intent.Priority = p
	}
}
