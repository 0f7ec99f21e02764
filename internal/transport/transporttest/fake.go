// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"curatorbot/internal/transport"
)

// Sent is one outgoing call recorded by Fake.
type Sent struct {
	Kind    string // text, edit, item, batch, media, answer
	ChatID  int64
	Text    string
	Refs    []string
	Buttons [][]transport.Button
}

// Fake records outgoing calls. Per-chat and per-ref errors can be injected.
type Fake struct {
	mu        sync.Mutex
	sent      []Sent
	nextID    int
	ChatErr   map[int64]error
	Gone      map[string]bool
	Members   map[string]map[int64]bool
	MemberErr error
	Chats     map[string]int64
	Menu      []transport.BotCommand
}

func New() *Fake {
	return &Fake{
		ChatErr: map[int64]error{},
		Gone:    map[string]bool{},
		Members: map[string]map[int64]bool{},
		Chats:   map[string]int64{},
	}
}

func (f *Fake) record(s Sent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ChatErr[s.ChatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, s)
	return nil
}

// Sent returns a copy of all recorded calls.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Texts returns the text messages sent to chatID.
func (f *Fake) Texts(chatID int64) []string {
	var out []string
	for _, s := range f.Sent() {
		if s.ChatID == chatID && (s.Kind == "text" || s.Kind == "edit") {
			out = append(out, s.Text)
		}
	}
	return out
}

// Last returns the newest call to chatID.
func (f *Fake) Last(chatID int64) (Sent, bool) {
	all := f.Sent()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ChatID == chatID {
			return all[i], true
		}
	}
	return Sent{}, false
}

func (f *Fake) SetMember(chat string, userID int64, member bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Members[chat] == nil {
		f.Members[chat] = map[int64]bool{}
	}
	f.Members[chat][userID] = member
}

func (f *Fake) Start(context.Context, chan<- transport.Update) error { return nil }

func (f *Fake) Stop(context.Context) error { return nil }

func (f *Fake) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	s := Sent{Kind: "text", ChatID: to.ChatID, Text: text}
	if opt != nil {
		s.Buttons = opt.Buttons
	}
	if err := f.record(s); err != nil {
		return transport.MessageRef{}, err
	}
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID, MessageID: id}, nil
}

func (f *Fake) EditText(_ context.Context, ref transport.MessageRef, text string, _ *transport.SendOptions) error {
	return f.record(Sent{Kind: "edit", ChatID: ref.ChatID, Text: text})
}

func (f *Fake) AnswerCallback(_ context.Context, id, text string) error {
	return f.record(Sent{Kind: "answer", Text: text})
}

func (f *Fake) goneErr(refs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range refs {
		if f.Gone[r] {
			return fmt.Errorf("copy %s: %w", r, transport.ErrItemGone)
		}
	}
	return nil
}

func (f *Fake) SendItem(_ context.Context, to transport.ChatTarget, ref string) error {
	if err := f.goneErr([]string{ref}); err != nil {
		return err
	}
	return f.record(Sent{Kind: "item", ChatID: to.ChatID, Refs: []string{ref}})
}

func (f *Fake) SendBatch(_ context.Context, to transport.ChatTarget, refs []string) error {
	if err := f.goneErr(refs); err != nil {
		return err
	}
	return f.record(Sent{Kind: "batch", ChatID: to.ChatID, Refs: append([]string(nil), refs...)})
}

func (f *Fake) SendMedia(_ context.Context, to transport.ChatTarget, urls []string) error {
	return f.record(Sent{Kind: "media", ChatID: to.ChatID, Refs: append([]string(nil), urls...)})
}

func (f *Fake) ItemExists(_ context.Context, ref string) (bool, error) {
	return f.goneErr([]string{ref}) == nil, nil
}

func (f *Fake) IsMember(_ context.Context, chat string, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MemberErr != nil {
		return false, f.MemberErr
	}
	return f.Members[chat][userID], nil
}

func (f *Fake) ResolveChat(_ context.Context, username string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.Chats[username]
	if !ok {
		return 0, fmt.Errorf("resolve %s: %w", username, transport.ErrUnreachable)
	}
	return id, nil
}

func (f *Fake) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Menu = append([]transport.BotCommand(nil), cmds...)
	return nil
}

var _ transport.Adapter = (*Fake)(nil)
var _ transport.CommandMenuUpdater = (*Fake)(nil)
