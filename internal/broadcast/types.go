package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"curatorbot/internal/transport"
	logx "curatorbot/pkg/logx"
)

var (
	ErrEmptyPayload = errors.New("broadcast payload is empty")
	ErrQueueFull    = errors.New("broadcast queue full")
	ErrStopped      = errors.New("broadcast service not running")
)

type Config struct {
	Workers    int
	RatePerSec int
	RetryMax   int
	QueueSize  int
	StatusMax  int
	StatusTTL  time.Duration
}

// Sender is the part of the chat transport a fan-out uses.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendItem(ctx context.Context, to transport.ChatTarget, ref string) error
	SendBatch(ctx context.Context, to transport.ChatTarget, refs []string) error
}

// Payload is what gets delivered to every recipient. Album takes precedence
// over Ref, Ref over Text.
type Payload struct {
	Text  string
	Ref   string
	Album []string
}

func (p Payload) Validate() error {
	if len(p.Album) == 0 && strings.TrimSpace(p.Ref) == "" && strings.TrimSpace(p.Text) == "" {
		return ErrEmptyPayload
	}
	return nil
}

func (p Payload) kind() string {
	switch {
	case len(p.Album) > 0:
		return "album"
	case p.Ref != "":
		return "item"
	default:
		return "text"
	}
}

// Summary is the result of one fan-out pass. Failed includes Unreachable.
type Summary struct {
	Total       int
	Sent        int
	Failed      int
	Unreachable int
	Took        time.Duration
}

type job struct {
	id      string
	name    string
	payload Payload
	roster  []int64
	done    func(JobStatus)
}

type JobStatus struct {
	ID          string
	Name        string
	Total       int
	Done        int
	Sent        int
	Failed      int
	Unreachable int
	CreatedAt   time.Time
	StartedAt   time.Time
	DoneAt      time.Time
	Running     bool
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	sender Sender
	log    logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// stopDone is non-nil while Stop is in progress.
	stopDone chan struct{}

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
