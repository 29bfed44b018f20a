package classify

import (
	"sort"

	"storefront-triage/internal/schema"
)

// WeightedScorer is the built-in scoring strategy: a fixed additive weight
// table over matched indicators. Because every weight is positive, matching
// more indicators can only raise the score, which satisfies the monotonicity
// contract by construction.
type WeightedScorer struct{}

// NewWeightedScorer creates the default scorer.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{}
}

// base scores per event type; unknown types start from a floor.
var typeWeights = map[string]int{
	"failed_login":          15,
	"brute_force":           45,
	"credential_stuffing":   50,
	"sql_injection_attempt": 55,
	"xss_attempt":           40,
	"path_traversal":        45,
	"rate_limit_exceeded":   20,
	"scraping_detected":     25,
	"privilege_escalation":  65,
	"unauthorized_access":   55,
	"data_export":           35,
	"bulk_download":         30,
}

const unknownTypeWeight = 10

// severity add-ons for the reporter's own assessment.
var severityWeights = map[schema.EventSeverity]int{
	schema.SeverityLow:      0,
	schema.SeverityMedium:   10,
	schema.SeverityHigh:     25,
	schema.SeverityCritical: 40,
}

// Score implements Scorer. Indicators are returned sorted so the output is
// stable for identical inputs.
func (s *WeightedScorer) Score(event *schema.SecurityEvent, evCtx Context) (int, []string, float64, error) {
	score := unknownTypeWeight
	indicators := []string{"event:" + event.Type}

	if w, ok := typeWeights[event.Type]; ok {
		score = w
	} else {
		indicators = append(indicators, "unknown_event_type")
	}

	score += severityWeights[event.Severity]
	if event.Severity.Rank() >= schema.SeverityHigh.Rank() {
		indicators = append(indicators, "reported_severity:"+string(event.Severity))
	}

	if evCtx.WatchlistedIP {
		score += 20
		indicators = append(indicators, "watchlisted_ip")
	}
	if evCtx.PriorEventsFromIP >= 10 {
		score += 20
		indicators = append(indicators, "repeat_source_ip_heavy")
	} else if evCtx.PriorEventsFromIP >= 3 {
		score += 10
		indicators = append(indicators, "repeat_source_ip")
	}
	if evCtx.PriorEventsFromType >= 5 {
		score += 10
		indicators = append(indicators, "event_type_burst")
	}
	if event.Actor == "" && event.IPAddress != "" {
		score += 5
		indicators = append(indicators, "unauthenticated_source")
	}

	// Confidence grows with corroborating indicators; a single weak signal
	// stays below any sane auto-approval threshold.
	confidence := 0.45 + 0.12*float64(len(indicators)-1)
	if confidence > 0.95 {
		confidence = 0.95
	}

	sort.Strings(indicators)
	return score, indicators, confidence, nil
}
