// Package temporal implements the Temporal Resolver (C12): pure,
// deterministic resolution of relative-time expressions ("yesterday",
// "in 3 days", "next Monday") against an explicit reference instant
//. It never calls a wall-clock function itself so the same
// (text, now) pair always yields the same result.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Replacement records one temporal expression this package resolved.
type Replacement struct {
	Original string
	Resolved string
	Type     string
}

// Result is the outcome of Resolve.
type Result struct {
	ResolvedText string
	OriginalText string
	Replacements []Replacement
	ReferenceTime time.Time
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday,
}

var (
	reToday     = regexp.MustCompile(`(?i)\btoday\b`)
	reTomorrow  = regexp.MustCompile(`(?i)\btomorrow\b`)
	reYesterday = regexp.MustCompile(`(?i)\byesterday\b`)
	reInNDays   = regexp.MustCompile(`(?i)\bin\s+(\d+)\s+days?\b`)
	reNDaysAgo  = regexp.MustCompile(`(?i)\b(\d+)\s+days?\s+ago\b`)
	reNextWD    = regexp.MustCompile(`(?i)\bnext\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	reLastWD    = regexp.MustCompile(`(?i)\blast\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	reNextWeek  = regexp.MustCompile(`(?i)\bnext\s+week\b`)
	reLastWeek  = regexp.MustCompile(`(?i)\blast\s+week\b`)
	reNextMonth = regexp.MustCompile(`(?i)\bnext\s+month\b`)
	reLastMonth = regexp.MustCompile(`(?i)\blast\s+month\b`)
)

// Resolve converts every relative-time expression in text into an absolute
// "on YYYY-MM-DD"-style phrase, using now as the reference instant
//. Deterministic: Resolve(text, now) always returns the
// same Result for the same inputs.
func Resolve(text string, now time.Time) Result {
	out := text
	var reps []Replacement

	out, reps = applyAll(out, reps, reToday, "today", func(string) string {
		return "on " + now.Format("2006-01-02")
	})
	out, reps = applyAll(out, reps, reTomorrow, "tomorrow", func(string) string {
		return "on " + now.AddDate(0, 0, 1).Format("2006-01-02")
	})
	out, reps = applyAll(out, reps, reYesterday, "yesterday", func(string) string {
		return "on " + now.AddDate(0, 0, -1).Format("2006-01-02")
	})
	out, reps = applyAllGroups(out, reps, reInNDays, "in_n_days", func(groups []string) string {
		n, _ := strconv.Atoi(groups[1])
		return "on " + now.AddDate(0, 0, n).Format("2006-01-02")
	})
	out, reps = applyAllGroups(out, reps, reNDaysAgo, "n_days_ago", func(groups []string) string {
		n, _ := strconv.Atoi(groups[1])
		return "on " + now.AddDate(0, 0, -n).Format("2006-01-02")
	})
	out, reps = applyAllGroups(out, reps, reNextWD, "next_weekday", func(groups []string) string {
		return "on " + nextWeekday(now, weekdays[strings.ToLower(groups[1])]).Format("2006-01-02")
	})
	out, reps = applyAllGroups(out, reps, reLastWD, "last_weekday", func(groups []string) string {
		return "on " + lastWeekday(now, weekdays[strings.ToLower(groups[1])]).Format("2006-01-02")
	})
	out, reps = applyAll(out, reps, reNextWeek, "next_week", func(string) string {
		return "the week of " + startOfNextWeek(now).Format("2006-01-02")
	})
	out, reps = applyAll(out, reps, reLastWeek, "last_week", func(string) string {
		return "the week of " + startOfLastWeek(now).Format("2006-01-02")
	})
	out, reps = applyAll(out, reps, reNextMonth, "next_month", func(string) string {
		y, m := addMonth(now, 1)
		return fmt.Sprintf("%s %d", m, y)
	})
	out, reps = applyAll(out, reps, reLastMonth, "last_month", func(string) string {
		y, m := addMonth(now, -1)
		return fmt.Sprintf("%s %d", m, y)
	})

	return Result{ResolvedText: out, OriginalText: text, Replacements: reps, ReferenceTime: now}
}

func applyAll(text string, reps []Replacement, re *regexp.Regexp, kind string, f func(string) string) (string, []Replacement) {
	out := re.ReplaceAllStringFunc(text, func(m string) string {
		r := f(m)
		reps = append(reps, Replacement{Original: m, Resolved: r, Type: kind})
		return r
	})
	return out, reps
}

func applyAllGroups(text string, reps []Replacement, re *regexp.Regexp, kind string, f func([]string) string) (string, []Replacement) {
	out := re.ReplaceAllStringFunc(text, func(m string) string {
		groups := re.FindStringSubmatch(m)
		r := f(groups)
		reps = append(reps, Replacement{Original: m, Resolved: r, Type: kind})
		return r
	})
	return out, reps
}

func nextWeekday(ref time.Time, target time.Weekday) time.Time {
	daysAhead := int(target - ref.Weekday())
	if daysAhead <= 0 {
		daysAhead += 7
	}
	return ref.AddDate(0, 0, daysAhead)
}

func lastWeekday(ref time.Time, target time.Weekday) time.Time {
	daysBack := int(ref.Weekday() - target)
	if daysBack <= 0 {
		daysBack += 7
	}
	return ref.AddDate(0, 0, -daysBack)
}

// daysSinceMonday returns ref's weekday as a Monday=0..Sunday=6 offset.
func daysSinceMonday(ref time.Time) int {
	return (int(ref.Weekday()) - int(time.Monday) + 7) % 7
}

func startOfNextWeek(ref time.Time) time.Time {
	daysUntilMonday := (7 - daysSinceMonday(ref)) % 7
	if daysUntilMonday == 0 {
		daysUntilMonday = 7
	}
	return ref.AddDate(0, 0, daysUntilMonday)
}

func startOfLastWeek(ref time.Time) time.Time {
	return ref.AddDate(0, 0, -(daysSinceMonday(ref) + 7))
}

func addMonth(ref time.Time, delta int) (int, time.Month) {
	total := int(ref.Month()) - 1 + delta
	year := ref.Year() + total/12
	monthIdx := total % 12
	if monthIdx < 0 {
		monthIdx += 12
		year--
	}
	return year, time.Month(monthIdx + 1)
}
