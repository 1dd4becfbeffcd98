package domain

import (
	"errors"
	"time"
)

// GatePolicy configures alert deduplication.
type GatePolicy struct {
	Cooldown          time.Duration
	SignificantRiseCm float64
}

func DefaultGatePolicy() GatePolicy {
	return GatePolicy{Cooldown: 30 * time.Minute, SignificantRiseCm: 20}
}

func (p GatePolicy) Validate() error {
	if p.Cooldown < 0 {
		return errors.New("notification cooldown must not be negative")
	}
	if p.SignificantRiseCm <= 0 {
		return errors.New("notification significant_rise_cm must be positive")
	}
	return nil
}

// GateReason names the rule that let an alert through.
type GateReason string

const (
	ReasonFirst           GateReason = "first"
	ReasonSeverityChange  GateReason = "severity_change"
	ReasonCooldownElapsed GateReason = "cooldown_elapsed"
	ReasonSignificantRise GateReason = "significant_rise"
)

// GateDecision is the outcome of EvaluateGate.
type GateDecision struct {
	Emit   bool
	Reason GateReason
}

// EvaluateGate decides whether a new alert should fire given the device's most
// recent notification. Any one rule is enough to emit. A significant rise
// overrides the cooldown so a fast-rising river is never silenced by a recent
// alert of the same tier.
func EvaluateGate(prior *Notification, status Status, level float64, now time.Time, p GatePolicy) GateDecision {
	switch {
	case prior == nil:
		return GateDecision{Emit: true, Reason: ReasonFirst}
	case prior.Severity != status:
		return GateDecision{Emit: true, Reason: ReasonSeverityChange}
	case now.Sub(prior.CreatedAt) >= p.Cooldown:
		return GateDecision{Emit: true, Reason: ReasonCooldownElapsed}
	case level-prior.WaterLevel >= p.SignificantRiseCm:
		return GateDecision{Emit: true, Reason: ReasonSignificantRise}
	}
	return GateDecision{}
}
