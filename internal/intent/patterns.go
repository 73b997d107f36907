package intent

import (
	"regexp"
	"strings"
	"time"

	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/timeparse"
)

// extracted is what a pattern's match function pulls out of the text before
// build turns it into a full ReminderIntent.
type extracted struct {
	message    string
	timeExpr   string
	timeKind   string // "absolute" | "relative" | "daytod" | "day" | "none"
	day        string
	timeOfDay  string
	weekday    string
}

type pattern struct {
	tier  int
	name  string
	match func(text string) *extracted
	build func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent
}

var weekdayWord = `monday|tuesday|wednesday|thursday|friday|saturday|sunday`

var (
	trailingDayTimeOfDay = regexp.MustCompile(`^(.*?)\s+(tomorrow|today)\s+(morning|afternoon|evening)$`)
	trailingDayWithTime  = regexp.MustCompile(`^(.*?)\s+(tomorrow|today|` + weekdayWord + `)\s+(?:at|by)\s+(.+)$`)
	trailingISO          = regexp.MustCompile(`^(.*?)\s+(\d{4}-\d{2}-\d{2}(?:[ t]\d{2}:\d{2}(?::\d{2})?)?)$`)
	trailingAtTime       = regexp.MustCompile(`^(.*?)\s+(at\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?)$`)
	trailingRelative     = regexp.MustCompile(`^(.*?)\s+(in\s+\d+\s*(?:minute|minutes|min|m|hour|hours|h|day|days|d|week|weeks))$`)
	trailingBareDay      = regexp.MustCompile(`^(.*?)\s+(tomorrow|today|` + weekdayWord + `)$`)
)

// splitTrailing pulls a trailing time expression off text, classifying it.
func splitTrailing(text string) extracted {
	if m := trailingDayTimeOfDay.FindStringSubmatch(text); m != nil {
		return extracted{message: strings.TrimSpace(m[1]), timeKind: "daytod", day: m[2], timeOfDay: m[3]}
	}
	if m := trailingDayWithTime.FindStringSubmatch(text); m != nil {
		return extracted{message: strings.TrimSpace(m[1]), timeKind: "absolute", timeExpr: m[2] + " at " + m[3]}
	}
	if m := trailingISO.FindStringSubmatch(text); m != nil {
		return extracted{message: strings.TrimSpace(m[1]), timeKind: "absolute", timeExpr: m[2]}
	}
	if m := trailingAtTime.FindStringSubmatch(text); m != nil {
		return extracted{message: strings.TrimSpace(m[1]), timeKind: "absolute", timeExpr: m[2]}
	}
	if m := trailingRelative.FindStringSubmatch(text); m != nil {
		return extracted{message: strings.TrimSpace(m[1]), timeKind: "relative", timeExpr: m[2]}
	}
	if m := trailingBareDay.FindStringSubmatch(text); m != nil {
		return extracted{message: strings.TrimSpace(m[1]), timeKind: "day", day: m[2]}
	}
	return extracted{message: text, timeKind: "none"}
}

func resolveDueAt(timeExpr string, now time.Time, loc *time.Location) *time.Time {
	if timeExpr == "" {
		return nil
	}
	res, err := timeparse.Parse(timeExpr, now, loc)
	if err != nil {
		return nil
	}
	return res.At
}

var (
	reRemindMeTo       = regexp.MustCompile(`^remind me to (.+)$`)
	reRemindMeGeneric  = regexp.MustCompile(`^remind me (?:to )?(.+)$`)
	reBriefingAdd      = regexp.MustCompile(`^add to my briefing:\s*(.+)$`)
	reBriefingRecur    = regexp.MustCompile(`^every (weekday|` + weekdayWord + `) in my morning briefing help me (.+)$`)
	reBriefingOneshot  = regexp.MustCompile(`^in my (?:morning )?briefing help me (.+)$`)
	reImperative       = regexp.MustCompile(`^(?:set|create|add|schedule) a reminder(?: for me)?(?: to)? (.+)$`)
	reRecurringPlain   = regexp.MustCompile(`^every (weekday|` + weekdayWord + `) help me (.+)$`)
)

func buildPatterns() []pattern {
	return []pattern{
		// Tier 1: explicit absolute time with trigger verb.
		{
			tier: 1, name: "explicit_time_trigger",
			match: func(text string) *extracted {
				m := reRemindMeTo.FindStringSubmatch(text)
				if m == nil {
					return nil
				}
				e := splitTrailing(m[1])
				if e.timeKind != "absolute" {
					return nil
				}
				return &e
			},
			build: func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent {
				return entities.ReminderIntent{
					IntentType: "reminder.create",
					Message:    e.message,
					DueAt:      resolveDueAt(e.timeExpr, now, loc),
					Timezone:   loc.String(),
					Channels:   entities.NormalizeChannels(nil),
					Priority:   5,
					Confidence: 0.95,
				}
			},
		},
		// Tier 2: briefing-add one-shot.
		{
			tier: 2, name: "briefing_add",
			match: func(text string) *extracted {
				m := reBriefingAdd.FindStringSubmatch(text)
				if m == nil {
					return nil
				}
				return &extracted{message: strings.TrimSpace(m[1])}
			},
			build: func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent {
				return entities.ReminderIntent{
					IntentType:         "reminder.create",
					Message:            e.message,
					Timezone:           loc.String(),
					Channels:           []entities.Channel{entities.ChannelMorningBriefing},
					Priority:           5,
					Confidence:         0.90,
					NeedsClarification: true,
					ClarifyingQuestion: "What day and time for this briefing?",
				}
			},
		},
		// Tier 3: briefing-recurring.
		{
			tier: 3, name: "briefing_recurring",
			match: func(text string) *extracted {
				m := reBriefingRecur.FindStringSubmatch(text)
				if m == nil {
					return nil
				}
				return &extracted{weekday: m[1], message: strings.TrimSpace(m[2])}
			},
			build: func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent {
				recurrence := e.weekday + "_morning"
				return entities.ReminderIntent{
					IntentType:         "reminder.create",
					Message:            e.message,
					Timezone:           loc.String(),
					Channels:           []entities.Channel{entities.ChannelMorningBriefing},
					Recurrence:         &recurrence,
					Priority:           5,
					Confidence:         0.90,
					NeedsClarification: true,
					ClarifyingQuestion: "What time morning on " + e.weekday + "?",
				}
			},
		},
		// Tier 4: briefing-oneshot.
		{
			tier: 4, name: "briefing_oneshot",
			match: func(text string) *extracted {
				m := reBriefingOneshot.FindStringSubmatch(text)
				if m == nil {
					return nil
				}
				return &extracted{message: strings.TrimSpace(m[1])}
			},
			build: func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent {
				return entities.ReminderIntent{
					IntentType:         "reminder.create",
					Message:            e.message,
					Timezone:           loc.String(),
					Channels:           []entities.Channel{entities.ChannelMorningBriefing},
					Priority:           5,
					Confidence:         0.85,
					NeedsClarification: true,
					ClarifyingQuestion: "What day and time would you like this in your briefing?",
				}
			},
		},
		// Tier 5: imperatives without "remind me".
		{
			tier: 5, name: "imperative",
			match: func(text string) *extracted {
				m := reImperative.FindStringSubmatch(text)
				if m == nil {
					return nil
				}
				e := splitTrailing(m[1])
				return &e
			},
			build: func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent {
				intent := entities.ReminderIntent{
					IntentType: "reminder.create",
					Message:    e.message,
					Timezone:   loc.String(),
					Channels:   entities.NormalizeChannels(nil),
					Priority:   5,
					Confidence: 0.90,
				}
				applyTimeKind(&intent, e, now, loc)
				return intent
			},
		},
		// Tier 6: relative time with trigger verb.
		{
			tier: 6, name: "relative_time",
			match: func(text string) *extracted {
				m := reRemindMeGeneric.FindStringSubmatch(text)
				if m == nil {
					return nil
				}
				e := splitTrailing(m[1])
				if e.timeKind != "relative" {
					return nil
				}
				return &e
			},
			build: func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent {
				return entities.ReminderIntent{
					IntentType: "reminder.create",
					Message:    e.message,
					DueAt:      resolveDueAt(e.timeExpr, now, loc),
					Timezone:   loc.String(),
					Channels:   entities.NormalizeChannels(nil),
					Priority:   5,
					Confidence: 0.90,
				}
			},
		},
		// Tier 7: relative time-of-day ("tomorrow morning").
		{
			tier: 7, name: "relative_time_of_day",
			match: func(text string) *extracted {
				m := reRemindMeGeneric.FindStringSubmatch(text)
				if m == nil {
					return nil
				}
				e := splitTrailing(m[1])
				if e.timeKind != "daytod" {
					return nil
				}
				return &e
			},
			build: func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent {
				return entities.ReminderIntent{
					IntentType:         "reminder.create",
					Message:            e.message,
					Timezone:           loc.String(),
					Channels:           entities.NormalizeChannels(nil),
					Priority:           5,
					Confidence:         0.85,
					NeedsClarification: true,
					ClarifyingQuestion: "What time " + e.timeOfDay + " on " + e.day + "?",
					ParsedPartial:      entities.Partial{Day: e.day, TimeOfDay: e.timeOfDay},
				}
			},
		},
		// Tier 8: simple remind, no time at all.
		{
			tier: 8, name: "simple_remind",
			match: func(text string) *extracted {
				m := reRemindMeTo.FindStringSubmatch(text)
				if m == nil {
					return nil
				}
				e := splitTrailing(m[1])
				return &e
			},
			build: func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent {
				intent := entities.ReminderIntent{
					IntentType:         "reminder.create",
					Message:            e.message,
					Timezone:           loc.String(),
					Channels:           entities.NormalizeChannels(nil),
					Priority:           5,
					Confidence:         0.60,
					NeedsClarification: true,
					ClarifyingQuestion: "When would you like to be reminded?",
				}
				if e.timeKind == "day" {
					intent.ParsedPartial.Day = e.day
				}
				return intent
			},
		},
		// Tier 9: recurring without briefing.
		{
			tier: 9, name: "recurring_plain",
			match: func(text string) *extracted {
				m := reRecurringPlain.FindStringSubmatch(text)
				if m == nil {
					return nil
				}
				return &extracted{weekday: m[1], message: strings.TrimSpace(m[2])}
			},
			build: func(e extracted, now time.Time, loc *time.Location) entities.ReminderIntent {
				recurrence := e.weekday
				return entities.ReminderIntent{
					IntentType:         "reminder.create",
					Message:            e.message,
					Timezone:           loc.String(),
					Channels:           entities.NormalizeChannels(nil),
					Recurrence:         &recurrence,
					Priority:           5,
					Confidence:         0.75,
					NeedsClarification: true,
					ClarifyingQuestion: "What time on " + e.weekday + "?",
				}
			},
		},
	}
}

// applyTimeKind resolves a trailing expression of any kind onto an intent,
// used by patterns (tier 5) whose message extraction is shared with
// absolute/relative/day-of-time forms.
func applyTimeKind(intent *entities.ReminderIntent, e extracted, now time.Time, loc *time.Location) {
	switch e.timeKind {
	case "absolute", "relative":
		intent.DueAt = resolveDueAt(e.timeExpr, now, loc)
	case "daytod":
		intent.NeedsClarification = true
		intent.ClarifyingQuestion = "What time " + e.timeOfDay + " on " + e.day + "?"
		intent.ParsedPartial = entities.Partial{Day: e.day, TimeOfDay: e.timeOfDay}
	case "day":
		intent.NeedsClarification = true
		intent.ClarifyingQuestion = "When would you like to be reminded?"
		intent.ParsedPartial.Day = e.day
	case "none":
		intent.NeedsClarification = true
		intent.ClarifyingQuestion = "When would you like to be reminded?"
	}
}

// fixTypos applies single-edit-distance fixups for a fixed vocabulary, per
// spec.md §4.2 "Typo tolerance".
func fixTypos(text string) string {
	words := strings.Fields(text)
	targets := []string{"briefing", "reminder", "remind", "tomorrow"}
	for i, w := range words {
		core := strings.TrimRight(w, ":,.;!?")
		for _, target := range targets {
			if core == target {
				break
			}
			if editDistance1(core, target) {
				words[i] = target + w[len(core):]
				break
			}
		}
	}
	return strings.Join(words, " ")
}

// editDistance1 reports whether a and b are within Levenshtein distance 1.
func editDistance1(a, b string) bool {
	if a == b {
		return false // already equal, no fixup needed
	}
	la, lb := len(a), len(b)
	if abs(la-lb) > 1 {
		return false
	}
	// cheap DP for distance <= 1
	i, j, edits := 0, 0, 0
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		edits++
		if edits > 1 {
			return false
		}
		switch {
		case la == lb:
			i++
			j++
		case la > lb:
			i++
		default:
			j++
		}
	}
	if i < la || j < lb {
		edits++
	}
	return edits <= 1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
