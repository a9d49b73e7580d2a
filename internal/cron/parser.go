// Package cron compiles the five-field cron expressions accepted by
// SWEEP_SCHEDULE into timezone-aware schedules for the re-dispatch sweeper.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser validates and compiles sweep schedule expressions. Only the
// standard five fields (minute hour dom month dow) are accepted.
type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse compiles expression in the given IANA timezone. Both the expression
// and the timezone are validated here so a bad SWEEP_SCHEDULE fails at
// startup rather than at the first sweep.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load sweep timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// Schedule yields successive sweep firing times.
type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

// Next returns the first firing after the given instant, evaluated in the
// schedule's timezone.
func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
