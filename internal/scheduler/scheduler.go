// Package scheduler triggers periodic maintenance jobs (stale catalog
// reconcile, cooldown pruning) on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	logx "curatorbot/pkg/logx"
)

var jobRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "curator_scheduler_runs_total",
		Help: "Scheduled job runs by job and result.",
	},
	[]string{"job", "result"},
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// JobInfo is the /status view of a registered job.
type JobInfo struct {
	Name     string
	Schedule string
	Next     time.Time
	LastRun  time.Time
	LastErr  string
}

type entry struct {
	job     Job
	id      cron.EntryID
	lastRun time.Time
	lastErr string
}

type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	loc     *time.Location
	c       *cron.Cron
	ctx     context.Context
	entries map[string]*entry
}

func New(timezone string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:     loadLocation(timezone, log),
		entries: map[string]*entry{},
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// NormalizeSpec accepts cron expressions, descriptors and bare durations
// ("55m" becomes "@every 55m").
func NormalizeSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("schedule required")
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return s, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("schedule %q: %w", raw, err)
	}
	if d < time.Second {
		return "", fmt.Errorf("schedule %q: interval below 1s", raw)
	}
	return "@every " + d.String(), nil
}

// Add registers j. Jobs with an empty schedule are skipped. Adding a job
// with an existing name replaces it.
func (s *Service) Add(j Job) error {
	if j.Run == nil || strings.TrimSpace(j.Name) == "" {
		return errors.New("job name and func required")
	}
	if strings.TrimSpace(j.Schedule) == "" {
		s.log.Debug("job disabled (no schedule)", logx.String("job", j.Name))
		s.Remove(j.Name)
		return nil
	}
	spec, err := NormalizeSpec(j.Schedule)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	j.Schedule = spec

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[j.Name]; ok && s.c != nil {
		s.c.Remove(old.id)
	}
	e := &entry{job: j}
	s.entries[j.Name] = e
	if s.c != nil {
		return s.scheduleLocked(e)
	}
	return nil
}

// Remove unregisters the named job. It reports whether the job existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(e.id)
	}
	delete(s.entries, name)
	s.log.Info("job removed", logx.String("job", name))
	return true
}

func (s *Service) scheduleLocked(e *entry) error {
	name := e.job.Name
	id, err := s.c.AddFunc(e.job.Schedule, func() { s.RunNow(name) })
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	e.id = id
	return nil
}

// Start begins triggering. Jobs run with ctx as their parent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, e := range s.entries {
		if err := s.scheduleLocked(e); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", e.job.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	parent := s.ctx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := e.job.Run(ctx)
	took := time.Since(start)

	s.mu.Lock()
	e.lastRun = start
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		jobRuns.WithLabelValues(name, "error").Inc()
		s.log.Warn("job failed", logx.String("job", name), logx.Duration("took", took), logx.Err(err))
		return err
	}
	jobRuns.WithLabelValues(name, "ok").Inc()
	s.log.Debug("job done", logx.String("job", name), logx.Duration("took", took))
	return nil
}

// Jobs lists registered jobs sorted by name.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := JobInfo{Name: e.job.Name, Schedule: e.job.Schedule, LastRun: e.lastRun, LastErr: e.lastErr}
		if s.c != nil {
			info.Next = s.c.Entry(e.id).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
