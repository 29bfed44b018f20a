// Package classify maps raw security events to risk classifications.
// The scoring strategy is injected; the classifier owns the escalation
// decision, the timeout, and the severity banding.
package classify

import (
	"context"
	"fmt"
	"time"

	"storefront-triage/internal/schema"
)

// Classification is the classifier's verdict on a single event.
type Classification struct {
	RiskScore            int                  `json:"risk_score"` // 0-100
	Severity             schema.EventSeverity `json:"severity"`
	ThreatType           string               `json:"threat_type"`
	Indicators           []string             `json:"indicators"`
	Confidence           float64              `json:"confidence"` // 0-1
	ShouldCreateIncident bool                 `json:"should_create_incident"`
}

// Context carries the per-event surroundings the scorer may weigh.
type Context struct {
	PriorEventsFromIP   int  // same-IP events seen inside the lookback window
	PriorEventsFromType int  // same-type events seen inside the lookback window
	WatchlistedIP       bool // IP already tied to an open incident
}

// Scorer is the pluggable risk scoring strategy. Implementations must be
// deterministic for the same (event, context) and monotonic: matching a
// strict superset of indicators can never lower the score.
type Scorer interface {
	Score(event *schema.SecurityEvent, evCtx Context) (score int, indicators []string, confidence float64, err error)
}

// Config holds classifier settings.
type Config struct {
	IncidentScoreCutoff int           // riskScore >= cutoff escalates
	Timeout             time.Duration // bound on a single Score call
}

// DefaultConfig returns the default classifier configuration.
func DefaultConfig() Config {
	return Config{
		IncidentScoreCutoff: 70,
		Timeout:             2 * time.Second,
	}
}

// Classifier evaluates events against the configured scorer.
type Classifier struct {
	scorer Scorer
	config Config
}

// New creates a classifier around the given scorer.
func New(scorer Scorer, cfg Config) *Classifier {
	return &Classifier{scorer: scorer, config: cfg}
}

type scoreResult struct {
	score      int
	indicators []string
	confidence float64
	err        error
}

// Classify scores one event. The scorer call is bounded by the configured
// timeout; a timeout or scorer error is returned to the caller, which must
// treat the event as unescalated and surface an analysis-failure
// notification (fail-safe, not fail-open).
func (c *Classifier) Classify(ctx context.Context, event *schema.SecurityEvent, evCtx Context) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resCh := make(chan scoreResult, 1)
	go func() {
		score, indicators, confidence, err := c.scorer.Score(event, evCtx)
		resCh <- scoreResult{score, indicators, confidence, err}
	}()

	var res scoreResult
	select {
	case <-ctx.Done():
		return Classification{}, fmt.Errorf("classify %s: %w", event.ID, ctx.Err())
	case res = <-resCh:
	}
	if res.err != nil {
		return Classification{}, fmt.Errorf("classify %s: %w", event.ID, res.err)
	}

	score := clampScore(res.score)
	severity := schema.MaxSeverity(severityForScore(score), event.Severity)

	return Classification{
		RiskScore:  score,
		Severity:   severity,
		ThreatType: threatTypeFor(event.Type),
		Indicators: res.indicators,
		Confidence: clampConfidence(res.confidence),
		// Score threshold, with an explicit override: reported high or
		// critical severity escalates regardless of score.
		ShouldCreateIncident: score >= c.config.IncidentScoreCutoff ||
			event.Severity.Rank() >= schema.SeverityHigh.Rank(),
	}, nil
}

// severityForScore bands a risk score into a severity.
func severityForScore(score int) schema.EventSeverity {
	switch {
	case score >= 85:
		return schema.SeverityCritical
	case score >= 65:
		return schema.SeverityHigh
	case score >= 40:
		return schema.SeverityMedium
	default:
		return schema.SeverityLow
	}
}

// threatTypeFor tags an event type with its threat family.
func threatTypeFor(eventType string) string {
	switch eventType {
	case "failed_login", "brute_force", "credential_stuffing":
		return "credential_attack"
	case "sql_injection_attempt", "xss_attempt", "path_traversal":
		return "injection"
	case "rate_limit_exceeded", "scraping_detected":
		return "abuse"
	case "privilege_escalation", "unauthorized_access":
		return "access_violation"
	case "data_export", "bulk_download":
		return "exfiltration"
	default:
		return "suspicious_activity"
	}
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
