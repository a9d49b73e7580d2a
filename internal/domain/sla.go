package domain

// slaByUrgency holds the baseline deadlines per urgency, in minutes.
var slaByUrgency = map[Urgency]SLAConfig{
	UrgencyEmergency:  {DispatchMin: 5, AssignMin: 15, ArrivalMin: 120, CompletionMin: 480},
	UrgencySameDay:    {DispatchMin: 15, AssignMin: 60, ArrivalMin: 480, CompletionMin: 1440},
	UrgencyNextDay:    {DispatchMin: 30, AssignMin: 240, ArrivalMin: 1920, CompletionMin: 2880},
	UrgencyWithinWeek: {DispatchMin: 60, AssignMin: 1440, ArrivalMin: 10080, CompletionMin: 11520},
	UrgencyFlexible:   {DispatchMin: 120, AssignMin: 2880, ArrivalMin: 20160, CompletionMin: 21600},
}

// tradeArrivalScale widens the arrival window for trades where parts or
// equipment commonly gate the visit.
var tradeArrivalScale = map[Trade]int{
	TradeHVAC:           1,
	TradePlumbing:       1,
	TradeElectrical:     1,
	TradeHandyman:       2,
	TradeFacilitiesTech: 2,
	TradeOther:          2,
}

// DefaultSLA returns the SLA configuration for a trade and urgency.
// Unknown values fall back to the within_week baseline.
func DefaultSLA(trade Trade, urgency Urgency) SLAConfig {
	sla, ok := slaByUrgency[urgency]
	if !ok {
		sla = slaByUrgency[UrgencyWithinWeek]
	}
	scale, ok := tradeArrivalScale[trade]
	if !ok {
		scale = 2
	}
	sla.ArrivalMin *= scale
	if sla.ArrivalMin > sla.CompletionMin {
		sla.CompletionMin = sla.ArrivalMin
	}
	return sla
}
