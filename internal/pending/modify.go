package pending

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/timeparse"
)

var (
	priorityWordRe  = regexp.MustCompile(`(?i)\b(make (?:it|that)|set (?:it|that) (?:to|as))?\s*(high|low|medium|urgent) priority\b`)
	priorityNumRe   = regexp.MustCompile(`(?i)priority\s*(?:to|=)?\s*(\d{1,2})\b`)
	timeChangeRe    = regexp.MustCompile(`(?i)change (?:the )?time to (.+?)$`)
	textChangeRe    = regexp.MustCompile(`(?i)change (?:the )?(?:text|message) to (.+?)$`)
	snoozeChangeRe  = regexp.MustCompile(`(?i)\bmake that in (\d+)\s*(minute|minutes|min|hour|hours)\b`)
)

var priorityWords = map[string]int{
	"low":    2,
	"medium": 5,
	"high":   8,
	"urgent": 10,
}

// ApplyModification patches intent in place per one cross-message
// modification phrase and reports whether anything changed. It recognizes
// priority words/numbers, "change the time to ...", "change the text to
// ...", and a relative "make that in N minutes/hours" shorthand; anything
// else leaves the draft untouched.
func ApplyModification(intent *entities.ReminderIntent, text string, now time.Time) bool {
	changed := false

	if m := priorityWordRe.FindStringSubmatch(text); m != nil {
		if p, ok := priorityWords[strings.ToLower(m[2])]; ok {
			intent.Priority = p
			changed = true
		}
	} else if m := priorityNumRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 10 {
			intent.Priority = n
			changed = true
		}
	}

	if m := timeChangeRe.FindStringSubmatch(text); m != nil {
		loc := time.UTC
		if intent.Timezone != "" {
			if l, err := time.LoadLocation(intent.Timezone); err == nil {
				loc = l
			}
		}
		expr := strings.TrimSpace(m[1])
		res, err := timeparse.Parse(expr, now, loc)
		if err != nil {
			// a bare clock time ("9pm", "4:30pm") parses through the "at" form
			res, err = timeparse.Parse("at "+expr, now, loc)
		}
		if err == nil && res.At != nil {
			intent.DueAt = res.At
			intent.NeedsClarification = false
			intent.ClarifyingQuestion = ""
			changed = true
		}
	}

	if m := snoozeChangeRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			unit := time.Minute
			if strings.HasPrefix(strings.ToLower(m[2]), "hour") {
				unit = time.Hour
			}
			due := now.Add(time.Duration(n) * unit)
			intent.DueAt = &due
			intent.NeedsClarification = false
			intent.ClarifyingQuestion = ""
			changed = true
		}
	}

	if m := textChangeRe.FindStringSubmatch(text); m != nil {
		intent.Message = strings.TrimSpace(m[1])
		changed = true
	}

	return changed
}
