// Package router dispatches chat updates to command and callback handlers
// on a bounded worker pool.
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "curatorbot/internal/runtime/supervisor"
	kit "curatorbot/internal/transport"
	logx "curatorbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands are routed but left out of the menu and /help.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackRoute handles inline button data of the form "<prefix>:<payload>".
type CallbackRoute struct {
	Prefix  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Payload is the callback data after the prefix.
	Payload string
	ReqID   string
	IsOwner bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Message returns the triggering message, or nil for callbacks.
func (r *Request) Message() *kit.Message { return r.Update.Message }

// Reply sends text to the request's chat. Send errors are logged only.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) {
	if _, err := r.Adapter.SendText(ctx, r.Chat, text, opt); err != nil {
		r.Logger.Debug("reply failed", logx.Err(err))
	}
}

// ArgText is the raw argument string joined with single spaces.
func (r *Request) ArgText() string { return strings.Join(r.Args, " ") }

type Options struct {
	Workers  int
	QueueCap int
	// Fallback handles messages that are not commands (media, plain text).
	Fallback HandlerFunc
	// Middleware wraps every command and callback handler, outermost first.
	Middleware []Middleware
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	opts    Options

	mu       sync.RWMutex
	commands map[string]*Command
	ordered  []*Command
	owners   []int64
	cbs      map[string]CallbackRoute

	jobs chan func()

	supMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(adapter kit.Adapter, log logx.Logger, opts Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = max(2, runtime.NumCPU())
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = 256
	}
	return &Router{
		log:      log,
		adapter:  adapter,
		opts:     opts,
		commands: map[string]*Command{},
		cbs:      map[string]CallbackRoute{},
		jobs:     make(chan func(), opts.QueueCap),
	}
}

// SetOwners replaces the curator list. Safe during hot reload.
func (m *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Router) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetRegistry installs the command and callback tables and refreshes the
// platform command menu in the background.
func (m *Router) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	help := Command{
		Name:        "help",
		Description: "show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			req.Reply(ctx, m.helpText(req.IsOwner), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return nil
		},
	}
	cmds = append(cmds, help)

	table := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = &c
		ordered = append(ordered, &c)
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, exists := table[a]; !exists {
					table[a] = &c
				}
			}
		}
	}
	cb := map[string]CallbackRoute{}
	for _, r := range cbs {
		if p := strings.TrimSpace(r.Prefix); p != "" && r.Handle != nil {
			cb[p] = r
		}
	}

	m.mu.Lock()
	m.commands = table
	m.ordered = ordered
	m.cbs = cb
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(ordered)
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Supervisor returns the worker pool supervisor while DispatchLoop runs.
func (m *Router) Supervisor() *rtsup.Supervisor {
	m.supMu.Lock()
	defer m.supMu.Unlock()
	return m.sup
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log.With(logx.String("comp", "router"))))
	m.supMu.Lock()
	m.sup = sup
	m.supMu.Unlock()

	for i := 0; i < m.opts.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.opts.Workers), logx.Int("queue_cap", cap(m.jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.supMu.Lock()
		m.sup = nil
		m.supMu.Unlock()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

func (m *Router) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *Router) enqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// Route resolves an update to a handler and enqueues it.
func (m *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

// parseCommand splits "/cmd@bot a b" into ("cmd", ["a","b"]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return word, parts[1:], true
}

func (m *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID}
	word, args, ok := parseCommand(msg.Text)
	if !ok {
		if m.opts.Fallback != nil {
			m.dispatch(ctx, up, chat, msg.FromID, "message", nil, "", AccessEveryone, 0, m.opts.Fallback, nil)
		}
		return
	}

	m.mu.RLock()
	cmd, found := m.commands[word]
	m.mu.RUnlock()
	if !found {
		if msg.IsPrivate {
			_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		}
		return
	}
	m.dispatch(ctx, up, chat, msg.FromID, cmd.Name, args, "", cmd.Access, cmd.Timeout, cmd.Handle, func() {
		_, _ = m.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	})
}

func (m *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	prefix, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")

	m.mu.RLock()
	route, ok := m.cbs[prefix]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	h := func(c context.Context, req *Request) error {
		err := route.Handle(c, req)
		_ = m.adapter.AnswerCallback(c, cb.ID, "")
		return err
	}
	m.dispatch(ctx, up, kit.ChatTarget{ChatID: cb.ChatID}, cb.FromID, "cb:"+prefix, nil, payload, route.Access, route.Timeout, h, func() {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "Busy")
	})
}

func (m *Router) dispatch(ctx context.Context, up kit.Update, chat kit.ChatTarget, from int64, name string, args []string, payload string, access Access, timeout time.Duration, h HandlerFunc, onBusy func()) {
	owner := m.isOwner(from)
	if access == AccessOwnerOnly && !owner {
		if up.Kind == kit.UpdateCallback {
			_ = m.adapter.AnswerCallback(ctx, up.Callback.ID, "Not allowed")
		} else {
			_, _ = m.adapter.SendText(ctx, chat, "This command is for curators only.", nil)
		}
		return
	}
	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: name,
		Args:    args,
		Payload: payload,
		ReqID:   rid,
		IsOwner: owner,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.ChatID(chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", name),
		),
	}
	mws := append([]Middleware{MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(timeout)}, m.opts.Middleware...)
	final := Chain(h, mws...)
	if !m.enqueue(func() { _ = final(ctx, req) }) && onBusy != nil {
		onBusy()
	}
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
