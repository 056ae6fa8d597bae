package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"shopify-analytics-agent/internal/domain"
)

var (
	explicitRangeRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*(?:to|and|until|through|-)\s*(\d{4}-\d{2}-\d{2})`)
	sinceDateRe     = regexp.MustCompile(`\bsince\s+(\d{4}-\d{2}-\d{2})\b`)
	lastNRe         = regexp.MustCompile(`\b(?:last|past|previous)\s+(\d+)\s+(day|week|month|quarter|year)s?\b`)
	lastUnitRe      = regexp.MustCompile(`\b(?:last|past|previous)\s+(day|week|month|quarter|year)\b`)
	thisUnitRe      = regexp.MustCompile(`\b(?:this|current)\s+(week|month|quarter|year)\b`)
	toDateRe        = regexp.MustCompile(`\b(?:(week|month|quarter|year)[\s-]+to[\s-]+date|(wtd|mtd|qtd|ytd))\b`)
	todayRe         = regexp.MustCompile(`\btoday\b`)
	yesterdayRe     = regexp.MustCompile(`\byesterday\b`)

	// Anything that looks like a time expression but matched none of the
	// supported forms above.
	futureRe      = regexp.MustCompile(`\bnext\s+(?:\d+\s+)?(?:day|week|month|quarter|year|hour|weekend)s?\b`)
	unsupportedRe = regexp.MustCompile(`\b(?:last|past|previous|this|current)\s+(?:\d+\s+)?(?:hours?|minutes?|fortnights?|decades?|weekends?|seasons?|semesters?|centur(?:y|ies))\b`)
	weekdayRe     = regexp.MustCompile(`\b(?:(?:on|since|last|past|previous|this|next)\s+)?(?:mon|tues|wednes|thurs|fri|satur|sun)days?\b`)
	subDayRe      = regexp.MustCompile(`\b(?:(?:this|last|past|previous)\s+(?:morning|afternoon|evening|night)|tonight|\d+\s+(?:hours?|minutes?)\s+ago)\b`)
	relativeRe    = regexp.MustCompile(`\b(last|past|previous|this|current|next|since)\s+([a-z0-9][a-z0-9'/-]*)`)
	badDateRe     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

// notTemporal lists words that follow "last" or "this" without starting a
// time expression ("this product", "my last order").
var notTemporal = map[string]bool{
	"product": true, "products": true, "item": true, "items": true,
	"order": true, "orders": true, "customer": true, "customers": true,
	"sku": true, "skus": true, "variant": true, "variants": true,
	"collection": true, "store": true, "shop": true, "one": true,
	"is": true, "was": true, "are": true, "were": true,
	"do": true, "does": true, "did": true, "has": true, "have": true,
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfQuarter(day time.Time) time.Time {
	m := ((int(day.Month())-1)/3)*3 + 1
	return time.Date(day.Year(), time.Month(m), 1, 0, 0, 0, 0, day.Location())
}

func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func lastNDays(today time.Time, n int) domain.TimeRange {
	return domain.TimeRange{Start: today.AddDate(0, 0, -n), End: today, Label: fmt.Sprintf("last %d days", n)}
}

// ResolveTimeRange finds the first supported time expression in text (which
// must already be lower-cased) and resolves it against now. found is false
// when text carries no time expression at all. The result depends only on
// text and now.
func ResolveTimeRange(text string, now time.Time) (tr domain.TimeRange, found bool, err error) {
	today := startOfDay(now)

	if m := explicitRangeRe.FindStringSubmatch(text); m != nil {
		start, err1 := time.ParseInLocation(domain.DateLayout, m[1], now.Location())
		end, err2 := time.ParseInLocation(domain.DateLayout, m[2], now.Location())
		if err1 != nil || err2 != nil {
			return domain.TimeRange{}, true, timeRangeError(m[0], "is not a valid calendar date range")
		}
		if start.After(end) {
			return domain.TimeRange{}, true, timeRangeError(m[0], "starts after it ends")
		}
		return domain.TimeRange{Start: start, End: end, Label: m[1] + " to " + m[2]}, true, nil
	}

	if m := sinceDateRe.FindStringSubmatch(text); m != nil {
		start, err := time.ParseInLocation(domain.DateLayout, m[1], now.Location())
		if err != nil {
			return domain.TimeRange{}, true, timeRangeError(m[0], "is not a valid calendar date")
		}
		if start.After(today) {
			return domain.TimeRange{}, true, timeRangeError(m[0], "is in the future")
		}
		return domain.TimeRange{Start: start, End: today, Label: "since " + m[1]}, true, nil
	}

	if m := lastNRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 || n > 3650 {
			return domain.TimeRange{}, true, timeRangeError(m[0], "is out of range")
		}
		switch m[2] {
		case "day":
			return lastNDays(today, n), true, nil
		case "week":
			return domain.TimeRange{Start: today.AddDate(0, 0, -7*n), End: today, Label: fmt.Sprintf("last %d weeks", n)}, true, nil
		case "month":
			return domain.TimeRange{Start: today.AddDate(0, -n, 0), End: today, Label: fmt.Sprintf("last %d months", n)}, true, nil
		case "quarter":
			return domain.TimeRange{Start: today.AddDate(0, -3*n, 0), End: today, Label: fmt.Sprintf("last %d quarters", n)}, true, nil
		case "year":
			return domain.TimeRange{Start: today.AddDate(-n, 0, 0), End: today, Label: fmt.Sprintf("last %d years", n)}, true, nil
		}
	}

	if m := lastUnitRe.FindStringSubmatch(text); m != nil {
		switch m[1] {
		case "day":
			return lastNDays(today, 1), true, nil
		case "week":
			tr := lastNDays(today, 7)
			tr.Label = "last week"
			return tr, true, nil
		case "month":
			thisMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
			return domain.TimeRange{Start: thisMonth.AddDate(0, -1, 0), End: thisMonth.AddDate(0, 0, -1), Label: "last month"}, true, nil
		case "quarter":
			q := startOfQuarter(today)
			return domain.TimeRange{Start: q.AddDate(0, -3, 0), End: q.AddDate(0, 0, -1), Label: "last quarter"}, true, nil
		case "year":
			jan := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location())
			return domain.TimeRange{Start: jan.AddDate(-1, 0, 0), End: jan.AddDate(0, 0, -1), Label: "last year"}, true, nil
		}
	}

	unit := ""
	if m := thisUnitRe.FindStringSubmatch(text); m != nil {
		unit = m[1]
	} else if m := toDateRe.FindStringSubmatch(text); m != nil {
		unit = m[1]
		switch m[2] {
		case "wtd":
			unit = "week"
		case "mtd":
			unit = "month"
		case "qtd":
			unit = "quarter"
		case "ytd":
			unit = "year"
		}
	}
	switch unit {
	case "week":
		return domain.TimeRange{Start: startOfWeek(today), End: today, Label: "this week"}, true, nil
	case "month":
		return domain.TimeRange{Start: time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()), End: today, Label: "this month"}, true, nil
	case "quarter":
		return domain.TimeRange{Start: startOfQuarter(today), End: today, Label: "this quarter"}, true, nil
	case "year":
		return domain.TimeRange{Start: time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location()), End: today, Label: "this year"}, true, nil
	}

	if yesterdayRe.MatchString(text) {
		y := today.AddDate(0, 0, -1)
		return domain.TimeRange{Start: y, End: y, Label: "yesterday"}, true, nil
	}
	if todayRe.MatchString(text) {
		return domain.TimeRange{Start: today, End: today, Label: "today"}, true, nil
	}

	if m := futureRe.FindString(text); m != "" {
		return domain.TimeRange{}, true, timeRangeError(m, "refers to the future")
	}
	if m := unsupportedRe.FindString(text); m != "" {
		return domain.TimeRange{}, true, timeRangeError(m, "is not a supported time range")
	}
	if m := subDayRe.FindString(text); m != "" {
		return domain.TimeRange{}, true, timeRangeError(m, "is shorter than a day; the smallest range I support is a single day")
	}
	if m := weekdayRe.FindString(text); m != "" {
		return domain.TimeRange{}, true, timeRangeError(m, "is not a supported time range")
	}
	// since and next always start a time expression; last and this only
	// when followed by something other than a store noun.
	for _, m := range relativeRe.FindAllStringSubmatch(text, -1) {
		switch {
		case m[1] == "next":
			return domain.TimeRange{}, true, timeRangeError(m[0], "refers to the future")
		case m[1] == "since" || !notTemporal[m[2]]:
			return domain.TimeRange{}, true, timeRangeError(m[0], "is not a supported time range")
		}
	}
	if m := badDateRe.FindString(text); m != "" {
		return domain.TimeRange{}, true, timeRangeError(m, "needs a second date, e.g. 2024-01-01 to 2024-01-31")
	}
	return domain.TimeRange{}, false, nil
}
