package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"secureattend/internal/metrics"
	"secureattend/internal/notify"
	"secureattend/internal/roster"
)

// Source supplies the two collections the aggregator consumes. The
// roster.Repository satisfies it; tests supply fakes.
type Source interface {
	ListUsers(ctx context.Context) ([]roster.Person, error)
	ListAllEvents(ctx context.Context) ([]roster.Event, error)
}

// Snapshot is one completed fetch-then-aggregate cycle over the student
// roster.
type Snapshot struct {
	Roster    roster.RosterSummary   `json:"roster"`
	People    []roster.PersonSummary `json:"people"`
	TakenAt   time.Time              `json:"taken_at"`
	seq       uint64
}

// Service owns the dashboard refresh cycle: it fetches roster and events
// concurrently, aggregates, and caches the newest snapshot. Refreshes
// triggered in quick succession are sequence-tagged so a slow older
// cycle can never overwrite a newer one.
type Service struct {
	src           Source
	periodLength  int
	riskThreshold int
	now           func() time.Time

	mu      sync.Mutex
	nextSeq uint64
	latest  *Snapshot
}

// NewService creates a dashboard service. now may be nil for the system
// clock; tests inject a fixed one.
func NewService(src Source, periodLength, riskThreshold int, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		src:           src,
		periodLength:  periodLength,
		riskThreshold: riskThreshold,
		now:           now,
	}
}

// Refresh runs one fetch-then-aggregate cycle for the student roster and
// caches the result unless a newer cycle has started in the meantime.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	s.mu.Unlock()

	people, events, err := s.fetch(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap, err := s.aggregate(people, events, roster.RoleStudent, s.periodLength, s.riskThreshold)
	if err != nil {
		return Snapshot{}, err
	}
	snap.seq = seq

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.nextSeq {
		// A newer cycle started while this one was in flight; its result
		// supersedes this one, so this snapshot is never applied.
		metrics.DashboardStaleDrops.Inc()
		if s.latest != nil {
			return *s.latest, nil
		}
		return snap, nil
	}
	s.latest = &snap
	metrics.DashboardRefreshes.Inc()
	metrics.AtRiskStudents.Set(float64(snap.Roster.AtRiskCount))
	return snap, nil
}

// Snapshot returns the cached snapshot, computing one if none exists yet.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	cached := s.latest
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	return s.Refresh(ctx)
}

// Summarize runs an ad-hoc aggregation with caller-supplied parameters,
// bypassing the cache. Zero period or threshold fall back to the
// configured defaults; out-of-range values surface
// roster.ErrInvalidConfiguration.
func (s *Service) Summarize(ctx context.Context, role roster.Role, periodLength, riskThreshold int) (Snapshot, error) {
	if periodLength == 0 {
		periodLength = s.periodLength
	}
	if riskThreshold == 0 {
		riskThreshold = s.riskThreshold
	}
	people, events, err := s.fetch(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return s.aggregate(people, events, role, periodLength, riskThreshold)
}

// PersonSummary aggregates a single person's events with the configured
// parameters.
func (s *Service) PersonSummary(ctx context.Context, person roster.Person) (roster.PersonSummary, error) {
	events, err := s.src.ListAllEvents(ctx)
	if err != nil {
		return roster.PersonSummary{}, err
	}
	return roster.ComputePersonSummary(person, events, s.periodLength, s.now())
}

// Run refreshes once, then re-runs the cycle on every insert
// notification until ctx is cancelled.
func (s *Service) Run(ctx context.Context, n notify.Notifier) error {
	if _, err := s.Refresh(ctx); err != nil {
		log.Printf("dashboard: initial refresh failed: %v", err)
	}
	ticks, err := n.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			if _, err := s.Refresh(ctx); err != nil {
				log.Printf("dashboard: refresh failed: %v", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fetch issues the roster and event queries concurrently and waits for
// both. Neither fetch orders before the other.
func (s *Service) fetch(ctx context.Context) ([]roster.Person, []roster.Event, error) {
	var (
		people    []roster.Person
		events    []roster.Event
		peopleErr error
		eventsErr error
		wg        sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		people, peopleErr = s.src.ListUsers(ctx)
	}()
	go func() {
		defer wg.Done()
		events, eventsErr = s.src.ListAllEvents(ctx)
	}()
	wg.Wait()

	if peopleErr != nil {
		return nil, nil, peopleErr
	}
	if eventsErr != nil {
		return nil, nil, eventsErr
	}
	return people, events, nil
}

func (s *Service) aggregate(people []roster.Person, events []roster.Event, role roster.Role, periodLength, riskThreshold int) (Snapshot, error) {
	now := s.now()
	filtered := roster.FilterByRole(people, role)
	summary, err := roster.ComputeRosterSummary(filtered, events, periodLength, riskThreshold, now)
	if err != nil {
		return Snapshot{}, err
	}
	perPerson, err := roster.ComputeAllSummaries(filtered, events, periodLength, now)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Roster: summary, People: perPerson, TakenAt: now}, nil
}
