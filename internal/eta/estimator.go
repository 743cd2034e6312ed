package eta

import (
	"strings"
	"time"
)

// Order is the part of an order record the estimator reads.
type Order struct {
	Status       string
	DeliveryTime string
	PlacedAt     string
	ShippedAt    string
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Estimator computes delivery estimates under a fixed rounding policy.
type Estimator struct {
	policy Policy
	clock  Clock
}

// NewEstimator creates an Estimator using the wall clock.
func NewEstimator(p Policy) *Estimator {
	return &Estimator{policy: ParsePolicy(string(p)), clock: realClock{}}
}

// NewEstimatorWithClock creates an Estimator with a custom clock (for testing).
func NewEstimatorWithClock(p Policy, clock Clock) *Estimator {
	return &Estimator{policy: ParsePolicy(string(p)), clock: clock}
}

// Policy returns the rounding policy in use.
func (e *Estimator) Policy() Policy { return e.policy }

// Estimate returns the expected delivery time for o. It always produces a
// best-effort date: unparseable SLAs fall back to DefaultDays and missing or
// malformed timestamps fall back to now.
func (e *Estimator) Estimate(o Order) time.Time {
	now := e.clock.Now()
	placed, hasPlaced := ParseTimestamp(o.PlacedAt)
	shipped, hasShipped := ParseTimestamp(o.ShippedAt)

	var anchor time.Time
	switch normalizeStatus(o.Status) {
	case "out for delivery":
		return now
	case "delivered":
		switch {
		case hasShipped:
			return shipped
		case hasPlaced:
			return placed
		default:
			return now
		}
	case "shipped", "in transit":
		anchor = now
		if hasShipped {
			anchor = shipped
		}
	default:
		anchor = now
		if hasPlaced {
			anchor = placed
		}
	}

	sla := ParseSLA(o.DeliveryTime)
	days := sla.Days(e.policy)
	if sla.Business {
		return AddBusinessDays(anchor, days)
	}
	return anchor.AddDate(0, 0, days)
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
