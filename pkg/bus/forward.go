package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
	"github.com/pipewatch/pipewatch/pkg/store"
)

// RunEvent is the wire form of a single accepted event on TopicRunEvents.
type RunEvent struct {
	At    time.Time      `json:"at"`
	RunID string         `json:"run_id"`
	Event pipeline.Event `json:"event"`
}

// RunSnapshot is the wire form of a derived store view on TopicRunSnapshots.
// Err is flattened to text because consumers on the far side of the bus only
// render it; Cancelled lets them tell a user abort from a failure.
type RunSnapshot struct {
	At                   time.Time          `json:"at"`
	RunID                string             `json:"run_id"`
	Stages               []store.StageEntry `json:"stages"`
	ActiveTools          []string           `json:"active_tools,omitempty"`
	Tools                []string           `json:"tools,omitempty"`
	Score                float64            `json:"score,omitempty"`
	Plan                 *pipeline.Plan     `json:"plan,omitempty"`
	Scorecard            pipeline.Scorecard `json:"scorecard,omitempty"`
	RefinementIterations int                `json:"refinement_iterations,omitempty"`
	IsRefining           bool               `json:"is_refining,omitempty"`
	IsRunning            bool               `json:"is_running"`
	Error                string             `json:"error,omitempty"`
	Cancelled            bool               `json:"cancelled,omitempty"`
	ElapsedMs            int64              `json:"elapsed_ms,omitempty"`
	EventCount           int                `json:"event_count"`
}

// SnapshotWire converts a store snapshot for bus transport.
func SnapshotWire(snap store.Snapshot, cancelled bool) RunSnapshot {
	out := RunSnapshot{
		At:                   time.Now(),
		RunID:                snap.RunID,
		Stages:               snap.Stages,
		ActiveTools:          snap.ActiveTools,
		Tools:                snap.Tools,
		Score:                snap.Score,
		Plan:                 snap.Plan,
		Scorecard:            snap.Scorecard,
		RefinementIterations: snap.RefinementIterations,
		IsRefining:           snap.IsRefining,
		IsRunning:            snap.IsRunning,
		ElapsedMs:            snap.Elapsed.Milliseconds(),
		EventCount:           len(snap.Events),
		Cancelled:            cancelled,
	}
	if snap.Err != nil {
		out.Error = snap.Err.Error()
	}
	return out
}

// ForwardStore bridges store notifications onto the bus: each mutation
// publishes the events appended since the last notification on
// TopicRunEvents, then the new snapshot on TopicRunSnapshots. The returned
// function detaches the forwarder.
//
// isCancelled classifies the snapshot error for consumers; pass nil to treat
// every error as a failure.
func ForwardStore(b *Bus, st *store.Store, isCancelled func(error) bool) func() {
	var mu sync.Mutex
	lastCount := 0
	lastRun := ""

	return st.Subscribe(func(snap store.Snapshot) {
		mu.Lock()
		if snap.RunID != lastRun || len(snap.Events) < lastCount {
			lastCount = 0
			lastRun = snap.RunID
		}
		fresh := snap.Events[lastCount:]
		lastCount = len(snap.Events)
		mu.Unlock()

		for _, ev := range fresh {
			if err := b.Publish(TopicRunEvents, TypeRunEvent, RunEvent{
				At:    time.Now(),
				RunID: snap.RunID,
				Event: ev,
			}); err != nil {
				log.Error().Err(err).Msg("publish run event")
			}
		}

		cancelled := false
		if isCancelled != nil && snap.Err != nil {
			cancelled = isCancelled(snap.Err)
		}
		if err := b.Publish(TopicRunSnapshots, TypeRunSnapshot, SnapshotWire(snap, cancelled)); err != nil {
			log.Error().Err(err).Msg("publish run snapshot")
		}
	})
}
