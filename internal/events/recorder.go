// Package events carries engine events out of the engine: into the store
// journal, to WebSocket clients and into metrics. It also persists round
// results and engine snapshots.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coordinationlabs/jackpot-engine/internal/metrics"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
	"github.com/coordinationlabs/jackpot-engine/internal/store"
)

// DefaultQueueSize is the event buffer used when NewRecorder gets zero.
const DefaultQueueSize = 4096

// Broadcaster pushes events to live subscribers.
type Broadcaster interface {
	Broadcast(ev model.Event)
}

// Snapshotter is the engine's state export.
type Snapshotter interface {
	Snapshot() model.Snapshot
}

// Recorder is the engine's event sink. Publish only enqueues; Run does the
// I/O on its own goroutine so the engine lock is never held across a write.
type Recorder struct {
	store store.Store
	hub   Broadcaster
	queue chan model.Event
}

// NewRecorder creates a recorder. hub may be nil.
func NewRecorder(st store.Store, hub Broadcaster, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		store: st,
		hub:   hub,
		queue: make(chan model.Event, queueSize),
	}
}

// Publish enqueues ev. It never blocks; when the queue is full the event is
// dropped and counted.
func (r *Recorder) Publish(ev model.Event) {
	select {
	case r.queue <- ev:
	default:
		metrics.EventsDropped.Inc()
		slog.Warn("event queue full, dropping event", "type", ev.Type, "id", ev.ID)
	}
}

// Run drains the queue until ctx is cancelled. After each burst of events it
// saves a snapshot of source, so the latest stored snapshot trails the engine
// by at most one burst.
func (r *Recorder) Run(ctx context.Context, source Snapshotter) error {
	for {
		select {
		case <-ctx.Done():
			r.shutdown(source)
			return nil
		case ev := <-r.queue:
			r.record(ctx, ev)
			if len(r.queue) == 0 {
				r.saveSnapshot(ctx, source)
			}
		}
	}
}

// shutdown flushes whatever is still queued with a fresh deadline.
func (r *Recorder) shutdown(source Snapshotter) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-r.queue:
			r.record(ctx, ev)
		default:
			r.saveSnapshot(ctx, source)
			return
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev model.Event) {
	if err := r.store.AppendEvent(ctx, &ev); err != nil {
		slog.Error("append event failed", "type", ev.Type, "id", ev.ID, "err", err)
	}
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == model.EventTicketPurchase {
		var p model.TicketPurchase
		if err := json.Unmarshal(ev.Data, &p); err == nil && p.TicketCount != nil {
			metrics.TicketsSold.Add(float64(p.TicketCount.Uint64()))
		}
	}
	if r.hub != nil {
		r.hub.Broadcast(ev)
	}
}

func (r *Recorder) saveSnapshot(ctx context.Context, source Snapshotter) {
	if source == nil {
		return
	}
	snap := source.Snapshot()
	if err := r.store.SaveSnapshot(ctx, &snap); err != nil {
		slog.Error("save snapshot failed", "round", snap.Round, "err", err)
		return
	}
	metrics.ObserveSnapshot(&snap)
}

// RoundSettled stores a settled round. The randomness provider calls it
// after each successful delivery.
func (r *Recorder) RoundSettled(ctx context.Context, res model.RoundResult) {
	metrics.RoundsSettled.WithLabelValues(string(res.Outcome)).Inc()
	if err := r.store.SaveRound(ctx, &res); err != nil {
		slog.Error("save round failed", "round", res.Round, "err", err)
	}
}
