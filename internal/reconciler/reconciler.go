// Package reconciler periodically compares the decision store's participant
// counts against the database's issuance counts and reports drift. It never
// mutates either side; the log pipeline owns convergence, this job owns
// visibility into it.
package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/model"
)

// EventLister lists the events worth watching.
type EventLister interface {
	ListActive(ctx context.Context) ([]model.Event, error)
}

// ParticipantCounter reads the authoritative participant count.
type ParticipantCounter interface {
	ParticipantsCount(ctx context.Context, eventID string) (int64, error)
}

// IssuanceCounter reads the durable issuance count.
type IssuanceCounter interface {
	CountByEvent(ctx context.Context, eventID string) (int, error)
}

// State classifies the relationship between the decision store and the
// database for one event.
type State string

const (
	// StateConsistent means both sides agree.
	StateConsistent State = "consistent"
	// StateLagging means the database is behind but the count is still
	// moving, or the event is still running. Expected during bursts.
	StateLagging State = "lagging"
	// StateGap means the event ended and the deficit stopped shrinking.
	// Those participants will never get a row without intervention.
	StateGap State = "gap"
	// StateOvershoot means the database holds more rows than the store has
	// participants. Every row originates from a store PASS, so this should
	// be impossible.
	StateOvershoot State = "overshoot"
)

// Report is the outcome of checking one event.
type Report struct {
	EventID      string
	Participants int64
	Issued       int
	State        State
}

// Reconciler runs the periodic drift check.
type Reconciler struct {
	events    EventLister
	store     ParticipantCounter
	issuances IssuanceCounter
	interval  time.Duration
	// prevIssued remembers the database count per event from the last pass
	// so a stable deficit can be told apart from consumer lag.
	prevIssued map[string]int
	now        func() time.Time
}

// New creates a Reconciler that checks every interval.
func New(events EventLister, store ParticipantCounter, issuances IssuanceCounter, interval time.Duration) *Reconciler {
	return &Reconciler{
		events:     events,
		store:      store,
		issuances:  issuances,
		interval:   interval,
		prevIssued: make(map[string]int),
		now:        time.Now,
	}
}

// Run checks on every tick until the context is cancelled. The first pass
// happens immediately.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		reports, err := r.CheckOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("reconciliation pass failed")
		}
		for _, rep := range reports {
			logReport(rep)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// CheckOnce runs a single reconciliation pass over all active events.
// Events whose counters are temporarily unreadable are skipped; they will be
// picked up on the next pass.
func (r *Reconciler) CheckOnce(ctx context.Context) ([]Report, error) {
	events, err := r.events.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(events))
	for _, event := range events {
		rep, ok := r.checkEvent(ctx, event)
		if ok {
			reports = append(reports, rep)
		}
	}
	return reports, nil
}

func (r *Reconciler) checkEvent(ctx context.Context, event model.Event) (Report, bool) {
	participants, err := r.store.ParticipantsCount(ctx, event.EventID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.EventID).Msg("participant count unavailable")
		return Report{}, false
	}
	issued, err := r.issuances.CountByEvent(ctx, event.EventID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.EventID).Msg("issuance count unavailable")
		return Report{}, false
	}

	prev, seen := r.prevIssued[event.EventID]
	r.prevIssued[event.EventID] = issued

	rep := Report{EventID: event.EventID, Participants: participants, Issued: issued}
	deficit := int(participants) - issued
	switch {
	case deficit == 0:
		rep.State = StateConsistent
	case deficit < 0:
		rep.State = StateOvershoot
	case seen && issued == prev && r.now().After(event.EndTime):
		rep.State = StateGap
	default:
		rep.State = StateLagging
	}
	return rep, true
}

func logReport(rep Report) {
	evt := log.Info()
	switch rep.State {
	case StateConsistent:
		evt = log.Debug()
	case StateGap, StateOvershoot:
		evt = log.Error()
	}
	evt.Str("event_id", rep.EventID).
		Int64("participants", rep.Participants).
		Int("issued", rep.Issued).
		Str("state", string(rep.State)).
		Msg("reconciliation report")
}
