// Package audit persists curator and system actions published on the event
// bus into the store's audit log.
package audit

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"curatorbot/internal/eventbus"
	"curatorbot/internal/storage"
	logx "curatorbot/pkg/logx"
)

var eventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "curator_audit_events_total",
		Help: "Audit events by kind and write result.",
	},
	[]string{"kind", "result"},
)

type Store interface {
	Audit(ctx context.Context, e storage.AuditEntry) error
}

type Recorder struct {
	store Store
	log   logx.Logger
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Run writes events from ch until ctx is done or ch is closed.
func (r *Recorder) Run(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.Record(ctx, e)
		}
	}
}

// Record writes one event. Write failures are logged, not returned.
func (r *Recorder) Record(ctx context.Context, e eventbus.Event) {
	entry := Entry(e)
	if err := r.store.Audit(ctx, entry); err != nil {
		eventsTotal.WithLabelValues(string(e.Kind), "error").Inc()
		r.log.Warn("audit write failed", logx.String("action", entry.Action), logx.Err(err))
		return
	}
	eventsTotal.WithLabelValues(string(e.Kind), "ok").Inc()
}

// Entry converts an event to its stored form.
func Entry(e eventbus.Event) storage.AuditEntry {
	entry := storage.AuditEntry{
		At:      e.At,
		ActorID: e.ActorID,
		Action:  string(e.Kind),
		Target:  e.Target,
		OK:      e.OK,
		Fail:    e.Fail,
		Error:   e.Err,
		TookMS:  e.Took.Milliseconds(),
	}
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			entry.MetaJSON = string(b)
		}
	}
	return entry
}
