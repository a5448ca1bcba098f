// Package analyzer derives health metrics, rollups and stage views from
// analysis events. Everything here is pure except the MTTR estimator, which
// reads error events from the store it is given.
package analyzer

import "math"

// Unknown names a missing dimension value in views that need one.
const Unknown = "unknown"

// Observer counts inputs that were absorbed with a default instead of
// failing the query.
type Observer interface {
	MalformedPayload(field string)
	UnparsableDuration(form string)
}

type nopObserver struct{}

func (nopObserver) MalformedPayload(string)   {}
func (nopObserver) UnparsableDuration(string) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

// Rate returns part as a percentage of total, clamped to [0, 100].
// A zero total yields 0.
func Rate(part, total int64) float64 {
	if total <= 0 || part <= 0 {
		return 0
	}
	return math.Min(100, float64(part)*100/float64(total))
}

// Round rounds v to the given number of decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// orUnknown returns name, or "unknown" when name is empty.
func orUnknown(name string) string {
	if name == "" {
		return Unknown
	}
	return name
}
