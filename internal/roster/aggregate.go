package roster

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrInvalidConfiguration marks aggregation parameters the caller must
// correct (non-positive period, threshold outside [0,100]).
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ComputePersonSummary aggregates events for a single person over a
// period of periodLength days. The rate is the share of the period with
// a recorded event, rounded half-up and capped at 100. It is a pure
// function of its arguments: events and person are never mutated and no
// clock is read (now is accepted for parity with callers that derive
// period windows; the computation itself does not depend on it).
func ComputePersonSummary(person Person, events []Event, periodLength int, now time.Time) (PersonSummary, error) {
	if periodLength <= 0 {
		return PersonSummary{}, fmt.Errorf("%w: period length must be positive, got %d", ErrInvalidConfiguration, periodLength)
	}

	var matched []Event
	for _, evt := range events {
		if evt.UserID == person.ID {
			matched = append(matched, evt)
		}
	}

	count := len(matched)
	rate := int(math.Round(math.Min(100, float64(count)/float64(periodLength)*100)))

	var lastSeen *time.Time
	if count > 0 {
		// Newest first; ties broken by ID ascending so the result is
		// reproducible regardless of input order.
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].Timestamp.Equal(matched[j].Timestamp) {
				return matched[i].ID < matched[j].ID
			}
			return matched[i].Timestamp.After(matched[j].Timestamp)
		})
		ts := matched[0].Timestamp
		lastSeen = &ts
	}

	return PersonSummary{
		PersonID: person.ID,
		Count:    count,
		Rate:     rate,
		LastSeen: lastSeen,
	}, nil
}

// ComputeRosterSummary aggregates every person in people and folds the
// individual rates into roster-level statistics. An empty roster is a
// valid state and yields the zero summary. A person's rate below
// riskThreshold counts them as at risk.
func ComputeRosterSummary(people []Person, events []Event, periodLength int, riskThreshold int, now time.Time) (RosterSummary, error) {
	if riskThreshold < 0 || riskThreshold > 100 {
		return RosterSummary{}, fmt.Errorf("%w: risk threshold must be in [0,100], got %d", ErrInvalidConfiguration, riskThreshold)
	}
	if len(people) == 0 {
		if periodLength <= 0 {
			return RosterSummary{}, fmt.Errorf("%w: period length must be positive, got %d", ErrInvalidConfiguration, periodLength)
		}
		return RosterSummary{}, nil
	}

	total := 0
	atRisk := 0
	rateSum := 0
	for _, p := range people {
		sum, err := ComputePersonSummary(p, events, periodLength, now)
		if err != nil {
			return RosterSummary{}, err
		}
		total++
		rateSum += sum.Rate
		if sum.Rate < riskThreshold {
			atRisk++
		}
	}

	return RosterSummary{
		TotalCount:  total,
		AvgRate:     int(math.Round(float64(rateSum) / float64(total))),
		AtRiskCount: atRisk,
	}, nil
}

// ComputeAllSummaries returns one PersonSummary per roster member, in
// roster order.
func ComputeAllSummaries(people []Person, events []Event, periodLength int, now time.Time) ([]PersonSummary, error) {
	out := make([]PersonSummary, 0, len(people))
	for _, p := range people {
		sum, err := ComputePersonSummary(p, events, periodLength, now)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// FilterByRole returns the people holding exactly the given role.
// People whose stored role failed to parse are never matched.
func FilterByRole(people []Person, role Role) []Person {
	var out []Person
	for _, p := range people {
		if p.Role == role && role != RoleUnknown {
			out = append(out, p)
		}
	}
	return out
}
