package search

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	logx "curatorbot/pkg/logx"
)

var (
	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_search_total",
		Help: "Search requests by outcome.",
	}, []string{"outcome"})
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_search_provider_requests_total",
		Help: "Provider calls by provider and status.",
	}, []string{"provider", "status"})
	providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curator_search_provider_duration_seconds",
		Help:    "Provider call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

// HistoryStore persists per-(user, query) result history.
type HistoryStore interface {
	SeenResultKeys(ctx context.Context, userID int64, query string, keys []string) (map[string]bool, error)
	InsertSearchHistory(ctx context.Context, userID int64, query string, keys []string) (int, error)
}

// Batch is the outcome of one Search call. An empty Results slice with no
// error means nothing new was found even after escalation.
type Batch struct {
	Query     string
	Results   []Result
	Escalated bool
	// Failed lists providers that errored or timed out in any round.
	Failed []string
}

type Options struct {
	ProviderTimeout time.Duration
	// EscalationPage is the page requested when the first round yields nothing new.
	EscalationPage int
}

type Aggregator struct {
	store   HistoryStore
	opts    Options
	log     logx.Logger
	shuffle func([]Result)
}

func NewAggregator(store HistoryStore, log logx.Logger, opts Options) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 8 * time.Second
	}
	if opts.EscalationPage < 2 {
		opts.EscalationPage = 2
	}
	return &Aggregator{
		store: store,
		opts:  opts,
		log:   log.With(logx.String("comp", "search")),
		shuffle: func(rs []Result) {
			rand.Shuffle(len(rs), func(i, j int) { rs[i], rs[j] = rs[j], rs[i] })
		},
	}
}

// Search queries every provider concurrently, dedups the merged results within
// the batch and against the user's history for the normalized query, and
// escalates once to a deeper page when nothing new survives. Returned keys are
// written to history before Search returns. Provider failures degrade the
// batch; only history store failures are returned as errors.
func (a *Aggregator) Search(ctx context.Context, userID int64, query string, providers []Provider) (Batch, error) {
	q := NormalizeQuery(query)
	b := Batch{Query: q}
	if q == "" {
		return b, ErrEmptyQuery
	}

	failed := map[string]bool{}
	fresh, err := a.round(ctx, userID, q, 1, providers, failed)
	if err != nil {
		return b, err
	}
	if len(fresh) == 0 {
		b.Escalated = true
		fresh, err = a.round(ctx, userID, q, a.opts.EscalationPage, providers, failed)
		if err != nil {
			return b, err
		}
	}
	for _, p := range providers {
		if failed[p.Name()] {
			b.Failed = append(b.Failed, p.Name())
		}
	}

	if len(fresh) > 0 {
		keys := make([]string, len(fresh))
		for i, r := range fresh {
			keys[i] = r.Key
		}
		if _, err := a.store.InsertSearchHistory(ctx, userID, q, keys); err != nil {
			return b, fmt.Errorf("search history: %w", err)
		}
		a.shuffle(fresh)
	}
	b.Results = fresh

	outcome := "results"
	if len(fresh) == 0 {
		outcome = "exhausted"
	}
	searchTotal.WithLabelValues(outcome).Inc()
	a.log.Debug("search finished",
		logx.UserID(userID),
		logx.String("query", q),
		logx.Int("results", len(fresh)),
		logx.Bool("escalated", b.Escalated),
		logx.Strings("failed", b.Failed),
	)
	return b, nil
}

// round runs one page against all providers and returns results whose keys
// are unique within the round and absent from history.
func (a *Aggregator) round(ctx context.Context, userID int64, q string, page int, providers []Provider, failed map[string]bool) ([]Result, error) {
	type reply struct {
		idx int
		res []Result
		err error
	}
	replies := make(chan reply, len(providers))
	for i, p := range providers {
		go func(i int, p Provider) {
			var r reply
			r.idx = i
			defer func() {
				if rec := recover(); rec != nil {
					r.err = fmt.Errorf("provider panic: %v", rec)
				}
				replies <- r
			}()
			pctx, cancel := context.WithTimeout(ctx, a.opts.ProviderTimeout)
			defer cancel()

			start := time.Now()
			r.res, r.err = p.Search(pctx, q, page)
			providerDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		}(i, p)
	}

	perProvider := make([][]Result, len(providers))
	errs := make([]error, len(providers))
	done := make([]bool, len(providers))
	// Providers that ignore ctx are abandoned once their timeout passes.
	deadline := time.NewTimer(a.opts.ProviderTimeout + 50*time.Millisecond)
	defer deadline.Stop()
collect:
	for received := 0; received < len(providers); received++ {
		select {
		case r := <-replies:
			perProvider[r.idx], errs[r.idx], done[r.idx] = r.res, r.err, true
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for i := range providers {
		if !done[i] {
			errs[i] = context.DeadlineExceeded
		}
	}

	var merged []Result
	seen := map[string]bool{}
	for i, p := range providers {
		if errs[i] != nil {
			failed[p.Name()] = true
			providerRequests.WithLabelValues(p.Name(), "error").Inc()
			a.log.Warn("search provider failed",
				logx.String("provider", p.Name()),
				logx.Int("page", page),
				logx.Err(errs[i]),
			)
			continue
		}
		providerRequests.WithLabelValues(p.Name(), "ok").Inc()
		for _, r := range perProvider[i] {
			if r.Key == "" {
				r.Key = r.MediaURL
			}
			if r.Key == "" || seen[r.Key] {
				continue
			}
			seen[r.Key] = true
			if r.Source == "" {
				r.Source = p.Name()
			}
			merged = append(merged, r)
		}
	}
	if len(merged) == 0 {
		return nil, nil
	}

	keys := make([]string, len(merged))
	for i, r := range merged {
		keys[i] = r.Key
	}
	history, err := a.store.SeenResultKeys(ctx, userID, q, keys)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	out := merged[:0]
	for _, r := range merged {
		if !history[r.Key] {
			out = append(out, r)
		}
	}
	return out, nil
}
