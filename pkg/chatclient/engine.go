package chatclient

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownEntry      = errors.New("chatclient: unknown entry")
	ErrInvalidTransition = errors.New("chatclient: invalid transition")
)

// DefaultMatchWindow bounds how far a durable comment's server time may be
// from a pending entry's send time for a content match.
const DefaultMatchWindow = 2 * time.Minute

type item struct {
	Item
	tokens     []string
	sentAt     time.Time
	lastSentAt time.Time
}

func (it *item) settled() bool { return it.Status == StatusDelivered }

// sortTime is the display key: server time once durable, send time before.
func (it *item) sortTime() time.Time {
	if it.Comment != nil {
		return it.Comment.CreatedAt
	}
	return it.sentAt
}

// Engine merges locally pending sends with durable comments. Every entry
// created by Add ends delivered or failed, and one logical send is never
// shown twice. Safe for concurrent use; network completions may arrive in
// any order.
type Engine struct {
	mu        sync.Mutex
	items     []*item
	byTemp    map[string]*item
	byComment map[int64]*item
	byToken   map[string]*item
	window    time.Duration
	now       func() time.Time
	newID     func() string
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithMatchWindow sets the content-match window.
func WithMatchWindow(d time.Duration) EngineOption {
	return func(e *Engine) { e.window = d }
}

// WithClock replaces the local clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine constructs an empty Engine. Options override the clock and the
// fallback match window.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		byTemp:    make(map[string]*item),
		byComment: make(map[int64]*item),
		byToken:   make(map[string]*item),
		window:    DefaultMatchWindow,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add shows draft immediately as a pending entry with fresh temp id and token.
func (e *Engine) Add(d Draft) Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	it := &item{
		Item: Item{
			TempID:    e.newID(),
			Token:     e.newID(),
			Status:    StatusPending,
			Draft:     d,
			CreatedAt: now,
		},
		sentAt:     now,
		lastSentAt: now,
	}
	it.tokens = []string{it.Token}
	e.items = append(e.items, it)
	e.byTemp[it.TempID] = it
	e.byToken[it.Token] = it
	return it.snapshot()
}

// MarkDelivered settles tempID with the send response. Repeating it is a
// no-op. When the comment is already visible through a page merge the
// pending row is dropped in favour of the durable one.
func (e *Engine) MarkDelivered(tempID string, c Comment) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.byTemp[tempID]
	if !ok {
		return ErrUnknownEntry
	}
	if it.settled() {
		if it.Comment.ID != c.ID {
			return fmt.Errorf("%w: %s already delivered as comment %d", ErrInvalidTransition, tempID, it.Comment.ID)
		}
		return nil
	}
	if existing, ok := e.byComment[c.ID]; ok {
		e.absorb(it, existing)
		return nil
	}
	e.settle(it, c)
	return nil
}

// MarkFailed moves a pending entry to failed. Delivered entries stay
// delivered; a late failure after a durable copy arrived is ignored.
func (e *Engine) MarkFailed(tempID string, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.byTemp[tempID]
	if !ok {
		return ErrUnknownEntry
	}
	switch it.Status {
	case StatusDelivered:
		return nil
	case StatusFailed:
		it.Err = cause
		return nil
	}
	it.Status = StatusFailed
	it.Err = cause
	return nil
}

// Resend moves a failed entry back to pending under a new token. Earlier
// tokens still reconcile a durable copy that turns up later.
func (e *Engine) Resend(tempID string) (Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.byTemp[tempID]
	if !ok {
		return Item{}, ErrUnknownEntry
	}
	if it.Status != StatusFailed {
		return Item{}, fmt.Errorf("%w: resend of %s entry", ErrInvalidTransition, it.Status)
	}
	it.Token = e.newID()
	it.tokens = append(it.tokens, it.Token)
	e.byToken[it.Token] = it
	it.Status = StatusPending
	it.Err = nil
	it.lastSentAt = e.now()
	return it.snapshot(), nil
}

// Discard removes an undelivered entry from the list.
func (e *Engine) Discard(tempID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.byTemp[tempID]
	if !ok {
		return ErrUnknownEntry
	}
	if it.settled() {
		return fmt.Errorf("%w: discard of delivered entry", ErrInvalidTransition)
	}
	e.remove(it)
	delete(e.byTemp, tempID)
	for _, tok := range it.tokens {
		delete(e.byToken, tok)
	}
	return nil
}

// MergePage folds independently fetched durable comments into the list.
// Known comments are refreshed in place; a comment matching an unsettled
// entry settles it; anything else is inserted in (created_at, id) order.
func (e *Engine) MergePage(comments []Comment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range comments {
		if existing, ok := e.byComment[c.ID]; ok {
			cc := c
			existing.Comment = &cc
			continue
		}
		if it := e.match(c); it != nil {
			e.settle(it, c)
			continue
		}
		cc := c
		it := &item{Item: Item{Status: StatusDelivered, CreatedAt: c.CreatedAt, Comment: &cc}}
		e.byComment[c.ID] = it
		e.insertSorted(it)
	}
}

// Entries returns a snapshot of the visible list, oldest first.
func (e *Engine) Entries() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Item, 0, len(e.items))
	for _, it := range e.items {
		out = append(out, it.snapshot())
	}
	return out
}

// Entry returns the current state of tempID.
func (e *Engine) Entry(tempID string) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.byTemp[tempID]
	if !ok {
		return Item{}, false
	}
	return it.snapshot(), true
}

// match finds the unsettled entry c belongs to: by echoed token first, then
// by content within the match window, oldest entry first.
func (e *Engine) match(c Comment) *item {
	if c.ClientToken != "" {
		if it, ok := e.byToken[c.ClientToken]; ok && !it.settled() && it.Draft.RoomID == c.RoomID && it.Draft.AuthorID == c.AuthorID {
			return it
		}
		// an echoed token that is not ours never content-matches
		return nil
	}
	for _, it := range e.items {
		if it.settled() || it.TempID == "" {
			continue
		}
		d := it.Draft
		if d.RoomID != c.RoomID || d.AuthorID != c.AuthorID || d.Text != c.Text || !sameURLSet(d.Attachments, c.Attachments) {
			continue
		}
		if c.CreatedAt.Before(it.sentAt.Add(-e.window)) || c.CreatedAt.After(it.lastSentAt.Add(e.window)) {
			continue
		}
		return it
	}
	return nil
}

func (e *Engine) settle(it *item, c Comment) {
	cc := c
	it.Comment = &cc
	it.Status = StatusDelivered
	it.Err = nil
	it.CreatedAt = c.CreatedAt
	e.byComment[c.ID] = it
}

// absorb drops the pending row it and lets tempID resolve to durable.
func (e *Engine) absorb(it, durable *item) {
	e.remove(it)
	if durable.TempID == "" {
		durable.TempID = it.TempID
		durable.Draft = it.Draft
		durable.Token = it.Token
	}
	durable.tokens = append(durable.tokens, it.tokens...)
	for _, tok := range it.tokens {
		e.byToken[tok] = durable
	}
	e.byTemp[it.TempID] = durable
}

func (e *Engine) remove(target *item) {
	for i, it := range e.items {
		if it == target {
			e.items = append(e.items[:i], e.items[i+1:]...)
			return
		}
	}
}

// insertSorted places a durable comment before the first row that sorts
// after it. Rows already in the list keep their positions.
func (e *Engine) insertSorted(it *item) {
	at := len(e.items)
	for i, other := range e.items {
		ot := other.sortTime()
		if ot.After(it.Comment.CreatedAt) {
			at = i
			break
		}
		if ot.Equal(it.Comment.CreatedAt) && other.Comment != nil && other.Comment.ID > it.Comment.ID {
			at = i
			break
		}
	}
	e.items = append(e.items, nil)
	copy(e.items[at+1:], e.items[at:])
	e.items[at] = it
}

func (it *item) snapshot() Item {
	out := it.Item
	if it.Comment != nil {
		cc := *it.Comment
		cc.Attachments = append([]Attachment(nil), it.Comment.Attachments...)
		out.Comment = &cc
	}
	out.Draft.Attachments = append([]Attachment(nil), it.Draft.Attachments...)
	return out
}
