package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// Snapshot is an immutable, consumer-facing view of the store. Everything in
// it is either a copy or derived from the event log, so holding a snapshot
// across further mutations is safe.
type Snapshot struct {
	RunID       string
	Events      []pipeline.Event
	Stages      []StageEntry
	ActiveTools []string
	Tools       []string

	Plan          *pipeline.Plan
	QualityReport *pipeline.QualityReport
	Score         float64
	Scorecard     pipeline.Scorecard

	RefinementIterations int
	IsRefining           bool
	Elapsed              time.Duration

	IsRunning bool
	Err       error
}

// Store holds the canonical event log for the current run and the artifact
// fields the stream client sets directly. All projections are recomputed from
// the log on Snapshot, never cached, which keeps re-derivation deterministic.
//
// The store itself never fails: mutations that cannot apply (duplicate seq,
// stale run, terminal state reached) are refused and reported via the bool
// return of AddEvent.
type Store struct {
	mu sync.Mutex

	runID   string
	events  []pipeline.Event
	seen    map[dedupKey]struct{}
	started time.Time

	plan      *pipeline.Plan
	report    *pipeline.QualityReport
	scorecard pipeline.Scorecard
	err       error
	isRunning bool

	subs    map[int]func(Snapshot)
	nextSub int

	log zerolog.Logger
}

type dedupKey struct {
	typ pipeline.EventType
	seq int64
}

func New() *Store {
	return &Store{
		seen: map[dedupKey]struct{}{},
		subs: map[int]func(Snapshot){},
		log:  log.With().Str("component", "store").Logger(),
	}
}

// Subscribe registers a change callback invoked after every mutation with a
// fresh snapshot. The returned function removes the subscription and is safe
// to call more than once.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Reset discards the previous run entirely: event log, dedup table, artifacts
// and error all return to their initial state, and the run is marked live.
// runID may be empty when the server has not yet confirmed the run.
func (s *Store) Reset(runID string) {
	s.mu.Lock()
	s.runID = runID
	s.events = nil
	s.seen = map[dedupKey]struct{}{}
	s.started = time.Now()
	s.plan = nil
	s.report = nil
	s.scorecard = nil
	s.err = nil
	s.isRunning = true
	s.mu.Unlock()
	s.notify()
}

// AddEvent appends one event to the log and applies its reducer effects.
// It reports false when the event was refused: duplicate (type, seq), an
// event from a superseded run, or arrival after the run reached a terminal
// error.
func (s *Store) AddEvent(ev pipeline.Event) bool {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return false
	}
	if ev.RunID != "" && s.runID != "" && ev.RunID != s.runID {
		s.log.Debug().Str("event_run", ev.RunID).Str("current_run", s.runID).Msg("refusing event from stale run")
		s.mu.Unlock()
		return false
	}
	key := dedupKey{typ: ev.Type, seq: ev.Seq}
	if _, dup := s.seen[key]; dup {
		s.mu.Unlock()
		return false
	}
	s.seen[key] = struct{}{}
	s.events = append(s.events, ev)

	if s.runID == "" && ev.RunID != "" {
		s.runID = ev.RunID
	}

	switch ev.Type {
	case pipeline.EventRunCompleted:
		s.isRunning = false
	case pipeline.EventRunFailed:
		s.isRunning = false
		if p, err := ev.DecodeFailure(); err == nil && p.Error != "" {
			s.err = &RunError{Message: p.Error, Code: p.Code}
		} else {
			s.err = &RunError{Message: "run failed"}
		}
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// SetRunID records the server-confirmed run identifier. Events already held
// in the log are not re-validated; the guard applies to later arrivals.
func (s *Store) SetRunID(runID string) {
	s.mu.Lock()
	s.runID = runID
	s.mu.Unlock()
	s.notify()
}

// SetError marks the run as terminally failed. The first error wins; once
// set, no further events mutate state until the next Reset.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.isRunning = false
	s.mu.Unlock()
	s.notify()
}

// SetPlan overwrites the plan artifact.
func (s *Store) SetPlan(plan *pipeline.Plan) {
	s.mu.Lock()
	s.plan = plan
	s.mu.Unlock()
	s.notify()
}

// SetQualityReport overwrites the quality report artifact.
func (s *Store) SetQualityReport(report *pipeline.QualityReport) {
	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
	s.notify()
}

// SetScorecard overwrites the scorecard artifact.
func (s *Store) SetScorecard(sc pipeline.Scorecard) {
	s.mu.Lock()
	s.scorecard = sc
	s.mu.Unlock()
	s.notify()
}

// Snapshot derives the full consumer view from the current log.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	events := append([]pipeline.Event{}, s.events...)
	iterations, refining := RefinementIterations(events)
	snap := Snapshot{
		RunID:                s.runID,
		Events:               events,
		Stages:               DeriveStages(events),
		ActiveTools:          ActiveToolNames(events),
		Tools:                ToolNames(events),
		Plan:                 s.plan,
		QualityReport:        s.report,
		Scorecard:            s.scorecard,
		RefinementIterations: iterations,
		IsRefining:           refining,
		Elapsed:              Elapsed(events),
		IsRunning:            s.isRunning,
		Err:                  s.err,
	}
	if score, ok := LatestScore(events); ok {
		snap.Score = score
	} else if s.report != nil {
		snap.Score = s.report.Score
	}
	return snap
}

func (s *Store) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
