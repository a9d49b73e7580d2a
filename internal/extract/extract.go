// Package extract turns free-text work-order descriptions into structured
// drafts using pattern rules. It is the fallback path behind the LLM-backed
// parser: Extract never fails and always returns a structurally complete
// draft, with unmatched fields set to their documented defaults.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fieldserve/workorder/internal/domain"
)

// TitleMaxLen caps the derived title length in runes.
const TitleMaxLen = 100

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// US-shaped 10-digit phone with optional country code and separators.
	phoneRe = regexp.MustCompile(`(?:\+?1[\s.\-]?)?\(?(\d{3})\)?[\s.\-]?(\d{3})[\s.\-]?(\d{4})\b`)

	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\b`)
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	namedDateRe = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	timeRe      = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)

	durationRangeRe  = regexp.MustCompile(`(?i)\b(\d+)\s*-\s*(\d+)\s*hours?\b`)
	durationWithinRe = regexp.MustCompile(`(?i)\bwithin\s+(\d+)\s*hours?\b`)
	durationFlatRe   = regexp.MustCompile(`(?i)\b(\d+)\s*hours?\b`)

	dollarRe      = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{2}))?`)
	budgetRangeRe = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{2}))?\s*-\s*\$\s?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{2}))?`)

	hourlyRateRe = regexp.MustCompile(`(?i)\$\s?(\d+(?:\.\d{2})?)\s*(?:/|per\s+)(?:hr|hour)\b`)
	flatRateRe   = regexp.MustCompile(`(?i)\$\s?(\d+(?:\.\d{2})?)\s*(?:flat|fixed)\b`)

	contactLabelRe = regexp.MustCompile(`(?i)\b(?:requested\s+by|contact):?\s*([A-Za-z][A-Za-z.'\-]*(?:\s+[A-Za-z][A-Za-z.'\-]*){0,3})`)

	// <digits> <words>, <words>, <2-letter state> <optional 5-digit zip>
	addressRe = regexp.MustCompile(`\b\d+\s+[A-Za-z0-9.'\- ]+?,\s*[A-Za-z.'\- ]+?,\s*[A-Z]{2}(\s+\d{5})?\b`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// tradeKeywords are scanned in priority order; first match wins.
var tradeKeywords = []struct {
	trade    domain.Trade
	keywords []string
}{
	{domain.TradeHVAC, []string{"hvac", "air conditioning", "air conditioner", "a/c "}},
	{domain.TradePlumbing, []string{"plumb"}},
	{domain.TradeElectrical, []string{"electr"}},
	{domain.TradeHandyman, []string{"handyman"}},
	{domain.TradeFacilitiesTech, []string{"facilit"}},
}

// urgencyKeywords are scanned in priority order: emergency beats same_day
// beats next_day beats within_week beats flexible.
var urgencyKeywords = []struct {
	urgency  domain.Urgency
	keywords []string
}{
	{domain.UrgencyEmergency, []string{"emergency", "urgent", "asap"}},
	{domain.UrgencySameDay, []string{"same day", "same-day", "today"}},
	{domain.UrgencyNextDay, []string{"next day", "next-day", "tomorrow"}},
	{domain.UrgencyWithinWeek, []string{"within a week", "within the week", "this week"}},
	{domain.UrgencyFlexible, []string{"flexible", "no rush", "whenever"}},
}

// Extractor parses raw text into drafts. The clock anchors relative date
// tokens ("today", "tomorrow"); production code uses time.Now.
type Extractor struct {
	clock func() time.Time
}

func New() *Extractor {
	return &Extractor{clock: time.Now}
}

// NewWithClock creates an Extractor with a fixed clock, for tests.
func NewWithClock(clock func() time.Time) *Extractor {
	return &Extractor{clock: clock}
}

// Extract parses rawText into a Draft. It is pure and deterministic for a
// fixed clock and never fails: unmatched fields get their documented
// default (HVAC trade, within_week urgency) or absent marker.
func (e *Extractor) Extract(rawText string) domain.Draft {
	collapsed := collapseWhitespace(rawText)
	lower := strings.ToLower(collapsed)

	draft := domain.Draft{
		Title:       truncateRunes(collapsed, TitleMaxLen),
		Description: collapsed,
		Trade:       extractTrade(lower),
		Urgency:     extractUrgency(lower),
		AddressText: extractAddress(collapsed),
		ContactName: extractContactName(collapsed),
	}

	draft.ContactEmail = emailRe.FindString(collapsed)
	draft.ContactPhone = extractPhone(collapsed)
	draft.ScheduledStart = e.extractScheduledStart(collapsed, lower)
	draft.DurationMinHours, draft.DurationMaxHours = extractDuration(collapsed)
	draft.BudgetMinCents, draft.BudgetMaxCents = extractBudget(collapsed, lower)
	draft.PayRate = extractPayRate(collapsed)

	return draft
}

func extractTrade(lower string) domain.Trade {
	for _, tk := range tradeKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				return tk.trade
			}
		}
	}
	return domain.TradeHVAC
}

func extractUrgency(lower string) domain.Urgency {
	for _, uk := range urgencyKeywords {
		for _, kw := range uk.keywords {
			if strings.Contains(lower, kw) {
				return uk.urgency
			}
		}
	}
	return domain.UrgencyWithinWeek
}

// extractPhone returns the first 10-digit US-shaped phone number normalized
// to "(AAA) PPP-LLLL", or "" if none is found.
func extractPhone(text string) string {
	m := phoneRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("(%s) %s-%s", m[1], m[2], m[3])
}

// extractScheduledStart tries the date formats in priority order, combining
// each with an optional h:mm am/pm token (default 09:00). The literal
// tokens "today" and "tomorrow" are fallbacks with fixed times.
func (e *Extractor) extractScheduledStart(text, lower string) *time.Time {
	now := e.clock()

	if d, ok := parseSlashDate(text); ok {
		t := combineTime(d, text, 9, 0)
		return &t
	}
	if d, ok := parseISODate(text); ok {
		t := combineTime(d, text, 9, 0)
		return &t
	}
	if d, ok := parseNamedDate(text); ok {
		t := combineTime(d, text, 9, 0)
		return &t
	}

	if strings.Contains(lower, "today") {
		t := time.Date(now.Year(), now.Month(), now.Day(), 14, 0, 0, 0, now.Location())
		return &t
	}
	if strings.Contains(lower, "tomorrow") {
		next := now.AddDate(0, 0, 1)
		t := time.Date(next.Year(), next.Month(), next.Day(), 9, 0, 0, 0, now.Location())
		return &t
	}

	return nil
}

func parseSlashDate(text string) (time.Time, bool) {
	m := slashDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local), true
}

func parseISODate(text string) (time.Time, bool) {
	m := isoDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local), true
}

func parseNamedDate(text string) (time.Time, bool) {
	m := namedDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := monthByName(strings.ToLower(m[1]))
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.Local), true
}

func monthByName(name string) (time.Month, bool) {
	months := map[string]time.Month{
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June,
		"july": time.July, "august": time.August, "september": time.September,
		"october": time.October, "november": time.November, "december": time.December,
	}
	m, ok := months[name]
	return m, ok
}

// combineTime applies the first h:mm am/pm token in text to the date, or
// the given default hour/minute when no time token is present.
func combineTime(date time.Time, text string, defaultHour, defaultMin int) time.Time {
	hour, min := defaultHour, defaultMin
	if m := timeRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h >= 1 && h <= 12 {
			if m[2] != "" {
				min, _ = strconv.Atoi(m[2])
			} else {
				min = 0
			}
			if strings.EqualFold(m[3], "pm") && h != 12 {
				h += 12
			}
			if strings.EqualFold(m[3], "am") && h == 12 {
				h = 0
			}
			hour = h
		}
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, min, 0, 0, date.Location())
}

// extractDuration returns estimated hours as a (min, max) pair.
// "2-4 hours" → (2, 4); "within 3 hours" and "3 hours" → (3, 3); (0, 0)
// when absent.
func extractDuration(text string) (int, int) {
	if m := durationRangeRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		return lo, hi
	}
	if m := durationWithinRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, n
	}
	if m := durationFlatRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, n
	}
	return 0, 0
}

// extractBudget applies the budget rules: a $X - $Y range yields both
// bounds; otherwise a "budget"/"not to exceed" keyword with a single dollar
// amount yields a max only.
func extractBudget(text, lower string) (minCents, maxCents *int64) {
	if m := budgetRangeRe.FindStringSubmatch(text); m != nil {
		lo := parseCents(m[1], m[2])
		hi := parseCents(m[3], m[4])
		return &lo, &hi
	}

	if strings.Contains(lower, "not to exceed") || strings.Contains(lower, "budget") {
		if m := dollarRe.FindStringSubmatch(text); m != nil {
			amount := parseCents(m[1], m[2])
			return nil, &amount
		}
	}

	return nil, nil
}

func parseCents(dollars, cents string) int64 {
	dollars = strings.ReplaceAll(dollars, ",", "")
	d, _ := strconv.ParseInt(dollars, 10, 64)
	total := d * 100
	if cents != "" {
		c, _ := strconv.ParseInt(cents, 10, 64)
		total += c
	}
	return total
}

func extractPayRate(text string) string {
	if m := hourlyRateRe.FindStringSubmatch(text); m != nil {
		return "$" + m[1] + "/hr"
	}
	if m := flatRateRe.FindStringSubmatch(text); m != nil {
		return "$" + m[1] + " flat"
	}
	return ""
}

func extractContactName(text string) string {
	m := contactLabelRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	// The capture is capped at four name tokens but can swallow the local
	// part of a trailing email address; drop it and everything after.
	var kept []string
	for _, tok := range strings.Fields(m[1]) {
		if strings.Contains(tok, "@") || strings.Contains(text, tok+"@") {
			break
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

func extractAddress(text string) string {
	return strings.TrimSpace(addressRe.FindString(text))
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
