package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	logx "curatorbot/pkg/logx"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_requests_total",
		Help: "Handled commands and callbacks by route and result.",
	}, []string{"route", "result"})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curator_request_duration_seconds",
		Help:    "Handler latency by route.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"route"})
)

// slowRequest is the latency above which a successful request logs at INFO.
const slowRequest = 750 * time.Millisecond

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWTimeout bounds the handler context. Search and broadcast handlers get
// longer budgets through Command.Timeout.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error so one bad update never
// takes a dispatch worker down.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.log(log).Error("handler panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic in %s: %v", req.route(), r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs failures at WARN and slow successes at INFO, and feeds
// the request counters on the metrics endpoint.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			route := req.route()
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			requestDuration.WithLabelValues(route).Observe(d.Seconds())

			logger := req.log(log)
			switch {
			case err != nil:
				requestsTotal.WithLabelValues(route, "error").Inc()
				logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
			case d >= slowRequest:
				requestsTotal.WithLabelValues(route, "ok").Inc()
				logger.Info("slow request", logx.Duration("dur", d))
			default:
				requestsTotal.WithLabelValues(route, "ok").Inc()
				logger.Debug("request ok", logx.Duration("dur", d))
			}
			return err
		}
	}
}

func (r *Request) log(fallback logx.Logger) logx.Logger {
	if r.Logger.IsZero() {
		return fallback
	}
	return r.Logger
}

// route labels a request for metrics. Commands carry their name, callbacks
// "cb:<prefix>" and plain messages "message".
func (r *Request) route() string {
	if r.Command == "" {
		return "unknown"
	}
	return r.Command
}
