package access

import (
	"fmt"
	"strings"
)

// Outcome classifies one tap event. The set is closed; every evaluated tap
// maps to exactly one outcome.
type Outcome string

const (
	OutcomeGranted               Outcome = "GRANTED"
	OutcomeDeniedInactiveLock    Outcome = "DENIED_INACTIVE_LOCK"
	OutcomeErrorDeviceOffline    Outcome = "ERROR_DEVICE_OFFLINE"
	OutcomeDeniedInvalidCard     Outcome = "DENIED_INVALID_CARD"
	OutcomeDeniedExpiredCard     Outcome = "DENIED_EXPIRED_CARD"
	OutcomeDeniedInactiveUser    Outcome = "DENIED_INACTIVE_USER"
	OutcomeDeniedNoPermission    Outcome = "DENIED_NO_PERMISSION"
	OutcomeDeniedTimeRestriction Outcome = "DENIED_TIME_RESTRICTION"
)

var knownOutcomes = map[Outcome]struct{}{
	OutcomeGranted:               {},
	OutcomeDeniedInactiveLock:    {},
	OutcomeErrorDeviceOffline:    {},
	OutcomeDeniedInvalidCard:     {},
	OutcomeDeniedExpiredCard:     {},
	OutcomeDeniedInactiveUser:    {},
	OutcomeDeniedNoPermission:    {},
	OutcomeDeniedTimeRestriction: {},
}

// Granted reports whether the outcome opened the door.
func (o Outcome) Granted() bool { return o == OutcomeGranted }

// Valid reports whether the outcome belongs to the closed set.
func (o Outcome) Valid() bool {
	_, ok := knownOutcomes[o]
	return ok
}

// ParseOutcome validates an outcome string, e.g. from a query filter.
func ParseOutcome(raw string) (Outcome, error) {
	o := Outcome(strings.ToUpper(strings.TrimSpace(raw)))
	if !o.Valid() {
		return "", fmt.Errorf("unknown outcome %q", raw)
	}
	return o, nil
}
