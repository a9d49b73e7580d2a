// Package parser produces structured drafts from raw work-order text.
//
// The primary path is an LLM-backed extraction call; when that call errors,
// returns malformed JSON, or no model is configured, parsing falls back to
// the rule-based extractor. The fallback output is always structurally
// complete, so Parse never returns an unusable draft.
package parser

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/fieldserve/workorder/internal/domain"
	"github.com/fieldserve/workorder/internal/extract"
)

// LLMClient is the consumed contract of the external parse.
type LLMClient interface {
	ExtractFields(ctx context.Context, rawText string) (FieldPayload, error)
}

// MetricsSink records parse outcomes. Implementations must be non-blocking.
type MetricsSink interface {
	ParseCompleted(source string, duration time.Duration)
}

// Source constants for the ParseCompleted metric.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// FieldPayload is the JSON shape the LLM is instructed to emit. Missing
// fields arrive as empty strings, never null-typed inconsistently.
type FieldPayload struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Trade          string `json:"trade"`
	Urgency        string `json:"urgency"`
	AddressText    string `json:"address"`
	ScheduledStart string `json:"scheduled_start"` // RFC 3339 or empty
	BudgetMin      string `json:"budget_min"`      // dollars, e.g. "500"
	BudgetMax      string `json:"budget_max"`
	PayRate        string `json:"pay_rate"`
	ContactName    string `json:"contact_name"`
	ContactPhone   string `json:"contact_phone"`
	ContactEmail   string `json:"contact_email"`
}

type Service struct {
	llm       LLMClient // optional, nil = heuristics only
	extractor *extract.Extractor
	metrics   MetricsSink // optional, nil = disabled
}

func NewService(extractor *extract.Extractor) *Service {
	return &Service{extractor: extractor}
}

// WithLLM attaches the external LLM client.
func (s *Service) WithLLM(llm LLMClient) *Service {
	s.llm = llm
	return s
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(sink MetricsSink) *Service {
	s.metrics = sink
	return s
}

// Parse returns a structured draft for rawText. The LLM path is attempted
// first; any failure falls back to the heuristic extractor. Parse itself
// never fails.
func (s *Service) Parse(ctx context.Context, rawText string) domain.Draft {
	start := time.Now()

	if s.llm != nil {
		payload, err := s.llm.ExtractFields(ctx, rawText)
		if err == nil {
			draft, ok := s.fromPayload(payload, rawText)
			if ok {
				s.record(SourceLLM, time.Since(start))
				return draft
			}
			log.Printf("parser: llm payload malformed, falling back to heuristics")
		} else {
			log.Printf("parser: llm extract failed, falling back to heuristics: %v", err)
		}
	}

	draft := s.extractor.Extract(rawText)
	s.record(SourceFallback, time.Since(start))
	return draft
}

func (s *Service) record(source string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ParseCompleted(source, d)
	}
}

// fromPayload converts an LLM payload into a draft, filling gaps from the
// heuristic extractor so the result is always complete. It reports false
// when the payload is unusable (no title and no address).
func (s *Service) fromPayload(p FieldPayload, rawText string) (domain.Draft, bool) {
	if strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.AddressText) == "" {
		return domain.Draft{}, false
	}

	// Heuristics backfill anything the model left empty.
	draft := s.extractor.Extract(rawText)

	if t := strings.TrimSpace(p.Title); t != "" {
		draft.Title = t
	}
	if d := strings.TrimSpace(p.Description); d != "" {
		draft.Description = d
	}
	if trade, err := domain.ParseTrade(strings.TrimSpace(p.Trade)); err == nil {
		draft.Trade = trade
	}
	if urgency, err := domain.ParseUrgency(strings.TrimSpace(p.Urgency)); err == nil {
		draft.Urgency = urgency
	}
	if a := strings.TrimSpace(p.AddressText); a != "" {
		draft.AddressText = a
	}
	if ts := strings.TrimSpace(p.ScheduledStart); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			draft.ScheduledStart = &t
		}
	}
	if c, ok := parseDollars(p.BudgetMin); ok {
		draft.BudgetMinCents = &c
	}
	if c, ok := parseDollars(p.BudgetMax); ok {
		draft.BudgetMaxCents = &c
	}
	if p.PayRate != "" {
		draft.PayRate = strings.TrimSpace(p.PayRate)
	}
	if p.ContactName != "" {
		draft.ContactName = strings.TrimSpace(p.ContactName)
	}
	if p.ContactPhone != "" {
		draft.ContactPhone = strings.TrimSpace(p.ContactPhone)
	}
	if p.ContactEmail != "" {
		draft.ContactEmail = strings.TrimSpace(p.ContactEmail)
	}

	// A model that inverts the bounds would violate the draft invariant;
	// swap rather than discard.
	if draft.BudgetMinCents != nil && draft.BudgetMaxCents != nil &&
		*draft.BudgetMinCents > *draft.BudgetMaxCents {
		draft.BudgetMinCents, draft.BudgetMaxCents = draft.BudgetMaxCents, draft.BudgetMinCents
	}

	return draft, true
}

func parseDollars(s string) (int64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int64(f * 100), true
}
