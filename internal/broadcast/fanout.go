package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"curatorbot/internal/transport"
	logx "curatorbot/pkg/logx"
)

var sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "curator_broadcast_sends_total",
	Help: "Broadcast deliveries by status.",
}, []string{"status"})

type sendResult int

const (
	resultSent sendResult = iota
	resultFailed
	resultUnreachable
)

// SendToAll delivers p to every user in roster with bounded concurrency.
// Each send is independent: failures are counted, never returned.
func (s *Service) SendToAll(ctx context.Context, p Payload, roster []int64) Summary {
	return s.fanOut(ctx, "", p, roster, nil)
}

func (s *Service) fanOut(ctx context.Context, jobID string, p Payload, roster []int64, progress func(sendResult)) Summary {
	start := time.Now()
	sum := Summary{Total: len(roster)}
	if err := p.Validate(); err != nil {
		sum.Failed = len(roster)
		sum.Took = time.Since(start)
		s.log.Warn("broadcast rejected", logx.String("job", jobID), logx.Err(err))
		return sum
	}

	s.mu.Lock()
	workers := s.cfg.Workers
	s.mu.Unlock()
	if workers > len(roster) {
		workers = len(roster)
	}

	targets := make(chan int64)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for uid := range targets {
				r := s.sendOne(ctx, jobID, p, uid)
				mu.Lock()
				switch r {
				case resultSent:
					sum.Sent++
				case resultUnreachable:
					sum.Unreachable++
					sum.Failed++
				default:
					sum.Failed++
				}
				mu.Unlock()
				if progress != nil {
					progress(r)
				}
			}
		}()
	}

feed:
	for i, uid := range roster {
		select {
		case targets <- uid:
		case <-ctx.Done():
			// Recipients never attempted still count as failed.
			mu.Lock()
			sum.Failed += len(roster) - i
			mu.Unlock()
			break feed
		}
	}
	close(targets)
	wg.Wait()

	sum.Took = time.Since(start)
	fields := []logx.Field{
		logx.String("job", jobID),
		logx.String("kind", p.kind()),
		logx.Int("total", sum.Total),
		logx.Int("sent", sum.Sent),
		logx.Int("failed", sum.Failed),
		logx.Int("unreachable", sum.Unreachable),
		logx.Duration("took", sum.Took),
	}
	if sum.Failed > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}
	return sum
}

// sendOne delivers to a single user. Transient errors are retried up to
// RetryMax times; unreachable recipients are not retried.
func (s *Service) sendOne(ctx context.Context, jobID string, p Payload, userID int64) sendResult {
	s.mu.Lock()
	lim := s.limiter
	retry := s.cfg.RetryMax
	sender := s.sender
	s.mu.Unlock()

	to := transport.ChatTarget{ChatID: userID}
	var last error
	for i := 0; i <= retry; i++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				last = err
				break
			}
		}
		err := deliver(ctx, sender, to, p)
		if err == nil {
			sendsTotal.WithLabelValues("sent").Inc()
			return resultSent
		}
		last = err
		if !transport.IsTransient(err) || i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		s.log.Debug("broadcast send retry scheduled",
			logx.String("job", jobID), logx.UserID(userID),
			logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			sendsTotal.WithLabelValues("failed").Inc()
			return resultFailed
		case <-tmr.C:
		}
	}

	if transport.IsUnreachable(last) {
		sendsTotal.WithLabelValues("unreachable").Inc()
		s.log.Debug("broadcast recipient unreachable", logx.String("job", jobID), logx.UserID(userID))
		return resultUnreachable
	}
	sendsTotal.WithLabelValues("failed").Inc()
	s.log.Warn("broadcast send failed", logx.String("job", jobID), logx.UserID(userID), logx.Err(last))
	return resultFailed
}

func deliver(ctx context.Context, sender Sender, to transport.ChatTarget, p Payload) error {
	switch {
	case len(p.Album) > 0:
		return sender.SendBatch(ctx, to, p.Album)
	case p.Ref != "":
		return sender.SendItem(ctx, to, p.Ref)
	default:
		_, err := sender.SendText(ctx, to, p.Text, nil)
		return err
	}
}
