package broadcast

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	logx "curatorbot/pkg/logx"
)

// Submit queues a fan-out to run in the background and returns its job id.
func (s *Service) Submit(name string, p Payload, roster []int64) (string, error) {
	return s.SubmitNotify(name, p, roster, nil)
}

// SubmitNotify is Submit with a callback run on the runner goroutine once
// the job has finished.
func (s *Service) SubmitNotify(name string, p Payload, roster []int64, done func(JobStatus)) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if !s.running() {
		return "", ErrStopped
	}
	now := time.Now()
	id := "bc-" + uuid.NewString()
	s.pruneStatus(now)

	s.statusMu.Lock()
	s.status[id] = &JobStatus{ID: id, Name: name, Total: len(roster), CreatedAt: now}
	s.statusMu.Unlock()

	select {
	case s.queue <- job{id: id, name: name, payload: p, roster: roster, done: done}:
		s.log.Debug("broadcast job enqueued", logx.String("job", id), logx.String("name", name),
			logx.Int("total", len(roster)), logx.Int("queue_len", len(s.queue)))
		return id, nil
	default:
		s.statusMu.Lock()
		delete(s.status, id)
		s.statusMu.Unlock()
		s.log.Warn("broadcast queue full; dropping job", logx.String("name", name), logx.Int("queue_cap", cap(s.queue)))
		return "", ErrQueueFull
	}
}

// Status returns a snapshot of a submitted job.
func (s *Service) Status(id string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

func (s *Service) runner(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	s.update(j.id, func(st *JobStatus) {
		st.StartedAt = time.Now()
		st.Running = true
	})
	sum := s.fanOut(ctx, j.id, j.payload, j.roster, func(r sendResult) {
		s.update(j.id, func(st *JobStatus) {
			st.Done++
			switch r {
			case resultSent:
				st.Sent++
			case resultUnreachable:
				st.Unreachable++
				st.Failed++
			default:
				st.Failed++
			}
		})
	})
	now := time.Now()
	s.update(j.id, func(st *JobStatus) {
		// Recipients skipped on cancellation never reported progress.
		st.Failed = sum.Failed
		st.Sent = sum.Sent
		st.Unreachable = sum.Unreachable
		st.Done = sum.Total
		st.DoneAt = now
		st.Running = false
	})
	if j.done != nil {
		if st, ok := s.Status(j.id); ok {
			j.done(st)
		}
	}
	s.pruneStatus(now)
}

func (s *Service) update(id string, fn func(*JobStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		fn(st)
	}
}

// pruneStatus drops finished jobs older than statusTTL and then the oldest
// finished jobs beyond statusMax. Running jobs are kept.
func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	var finished []*JobStatus
	for id, st := range s.status {
		if st.Running || (st.DoneAt.IsZero() && !st.StartedAt.IsZero()) {
			continue
		}
		ref := st.DoneAt
		if ref.IsZero() {
			ref = st.CreatedAt
		}
		if s.statusTTL > 0 && now.Sub(ref) > s.statusTTL {
			delete(s.status, id)
			continue
		}
		if !st.DoneAt.IsZero() {
			finished = append(finished, st)
		}
	}
	if s.statusMax <= 0 || len(s.status) <= s.statusMax {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].DoneAt.Before(finished[j].DoneAt) })
	for _, st := range finished {
		if len(s.status) <= s.statusMax {
			break
		}
		delete(s.status, st.ID)
	}
}
