package chatclient

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	return NewEngine(WithClock(clock.Now), WithMatchWindow(time.Minute)), clock
}

func statuses(items []Item) []Status {
	out := make([]Status, 0, len(items))
	for _, it := range items {
		out = append(out, it.Status)
	}
	return out
}

func TestAddShowsPendingEntry(t *testing.T) {
	e, clock := newTestEngine(t)
	entry := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "hi"})

	assert.NotEmpty(t, entry.TempID)
	assert.NotEmpty(t, entry.Token)
	assert.NotEqual(t, entry.TempID, entry.Token)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, clock.t, entry.CreatedAt)
	assert.Len(t, e.Entries(), 1)
}

func TestMarkDeliveredReplacesInPlaceAndIsIdempotent(t *testing.T) {
	e, clock := newTestEngine(t)
	first := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "one"})
	second := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "two"})

	// second completes first; positions must not move
	c2 := Comment{ID: 11, RoomID: 1, AuthorID: "A", Text: "two", CreatedAt: clock.t.Add(time.Second)}
	require.NoError(t, e.MarkDelivered(second.TempID, c2))
	require.NoError(t, e.MarkDelivered(second.TempID, c2))

	entries := e.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, first.TempID, entries[0].TempID)
	assert.Equal(t, second.TempID, entries[1].TempID)
	assert.Equal(t, []Status{StatusPending, StatusDelivered}, statuses(entries))
	assert.Equal(t, int64(11), entries[1].Comment.ID)

	err := e.MarkDelivered(second.TempID, Comment{ID: 99})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, e.MarkDelivered("nope", c2), ErrUnknownEntry)
}

func TestFailedThenResendMintsNewToken(t *testing.T) {
	e, _ := newTestEngine(t)
	entry := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "hi"})

	_, err := e.Resend(entry.TempID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, e.MarkFailed(entry.TempID, errors.New("offline")))
	got, _ := e.Entry(entry.TempID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.EqualError(t, got.Err, "offline")

	resent, err := e.Resend(entry.TempID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, resent.Status)
	assert.Equal(t, entry.TempID, resent.TempID)
	assert.NotEqual(t, entry.Token, resent.Token)
	assert.Nil(t, resent.Err)
}

func TestLateFailureDoesNotUndoDelivery(t *testing.T) {
	e, clock := newTestEngine(t)
	entry := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "hi"})
	require.NoError(t, e.MarkDelivered(entry.TempID, Comment{ID: 1, RoomID: 1, AuthorID: "A", Text: "hi", CreatedAt: clock.t}))
	require.NoError(t, e.MarkFailed(entry.TempID, errors.New("timeout")))

	got, _ := e.Entry(entry.TempID)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.ErrorIs(t, e.Discard(entry.TempID), ErrInvalidTransition)
}

func TestMergePageSettlesByEchoedToken(t *testing.T) {
	e, clock := newTestEngine(t)
	entry := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "hi"})

	e.MergePage([]Comment{{ID: 5, RoomID: 1, AuthorID: "A", Text: "hi", ClientToken: entry.Token, CreatedAt: clock.t.Add(10 * time.Minute)}})

	entries := e.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusDelivered, entries[0].Status)
	assert.Equal(t, entry.TempID, entries[0].TempID)

	// the send response arriving afterwards is a no-op
	require.NoError(t, e.MarkDelivered(entry.TempID, *entries[0].Comment))
	assert.Len(t, e.Entries(), 1)
}

func TestMergePageSettlesFailedEntryByOldToken(t *testing.T) {
	e, clock := newTestEngine(t)
	entry := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "hi"})
	require.NoError(t, e.MarkFailed(entry.TempID, errors.New("timeout")))
	_, err := e.Resend(entry.TempID)
	require.NoError(t, err)

	e.MergePage([]Comment{{ID: 5, RoomID: 1, AuthorID: "A", Text: "hi", ClientToken: entry.Token, CreatedAt: clock.t}})

	got, _ := e.Entry(entry.TempID)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.Len(t, e.Entries(), 1)
}

func TestMergePageFallbackMatch(t *testing.T) {
	e, clock := newTestEngine(t)
	atts := []Attachment{{URL: "https://cdn/b.png", Type: "IMAGE"}, {URL: "https://cdn/a.png", Type: "IMAGE"}}
	older := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "same", Attachments: atts})
	clock.Advance(time.Second)
	newer := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "same", Attachments: atts})

	reordered := []Attachment{atts[1], atts[0]}
	e.MergePage([]Comment{
		{ID: 7, RoomID: 1, AuthorID: "A", Text: "same", Attachments: reordered, CreatedAt: clock.t.Add(2 * time.Second)},
	})

	o, _ := e.Entry(older.TempID)
	n, _ := e.Entry(newer.TempID)
	assert.Equal(t, StatusDelivered, o.Status, "oldest matching entry settles first")
	assert.Equal(t, StatusPending, n.Status, "one comment settles one entry")
	assert.Len(t, e.Entries(), 2)
}

func TestMergePageFallbackRejectsNearMisses(t *testing.T) {
	base := Comment{ID: 7, RoomID: 1, AuthorID: "A", Text: "hi"}
	tests := []struct {
		name   string
		mutate func(c *Comment, now time.Time)
	}{
		{"other author", func(c *Comment, now time.Time) { c.AuthorID = "B"; c.CreatedAt = now }},
		{"other room", func(c *Comment, now time.Time) { c.RoomID = 2; c.CreatedAt = now }},
		{"different text", func(c *Comment, now time.Time) { c.Text = "hi!"; c.CreatedAt = now }},
		{"extra attachment", func(c *Comment, now time.Time) {
			c.Attachments = []Attachment{{URL: "https://cdn/x"}}
			c.CreatedAt = now
		}},
		{"outside window", func(c *Comment, now time.Time) { c.CreatedAt = now.Add(5 * time.Minute) }},
		{"foreign token", func(c *Comment, now time.Time) { c.ClientToken = "someone-else"; c.CreatedAt = now }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, clock := newTestEngine(t)
			entry := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "hi"})
			c := base
			tt.mutate(&c, clock.t)

			e.MergePage([]Comment{c})

			got, _ := e.Entry(entry.TempID)
			assert.Equal(t, StatusPending, got.Status)
			assert.Len(t, e.Entries(), 2)
		})
	}
}

func TestMergePageDedupesAndOrders(t *testing.T) {
	e, clock := newTestEngine(t)
	t0 := clock.t.Add(-time.Hour)
	page := []Comment{
		{ID: 3, RoomID: 1, AuthorID: "B", Text: "c", CreatedAt: t0.Add(2 * time.Second)},
		{ID: 2, RoomID: 1, AuthorID: "B", Text: "b", CreatedAt: t0.Add(time.Second)},
	}
	entry := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "mine"})
	e.MergePage(page)
	e.MergePage(page)
	e.MergePage([]Comment{{ID: 1, RoomID: 1, AuthorID: "B", Text: "a", CreatedAt: t0}})

	entries := e.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "a", entries[0].Comment.Text)
	assert.Equal(t, "b", entries[1].Comment.Text)
	assert.Equal(t, "c", entries[2].Comment.Text)
	assert.Equal(t, entry.TempID, entries[3].TempID)
}

func TestMarkDeliveredAfterUnmatchedMergeDropsPendingRow(t *testing.T) {
	e, clock := newTestEngine(t)
	entry := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "hi"})
	c := Comment{ID: 4, RoomID: 1, AuthorID: "A", Text: "hi", CreatedAt: clock.t.Add(10 * time.Minute)}

	// outside the window, so the page inserts it as a foreign comment
	e.MergePage([]Comment{c})
	require.Len(t, e.Entries(), 2)

	require.NoError(t, e.MarkDelivered(entry.TempID, c))
	entries := e.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, entry.TempID, entries[0].TempID)
	got, ok := e.Entry(entry.TempID)
	require.True(t, ok)
	assert.Equal(t, StatusDelivered, got.Status)
}

func TestDiscardRemovesUndelivered(t *testing.T) {
	e, _ := newTestEngine(t)
	entry := e.Add(Draft{RoomID: 1, AuthorID: "A", Text: "hi"})
	require.NoError(t, e.Discard(entry.TempID))
	assert.Empty(t, e.Entries())
	_, ok := e.Entry(entry.TempID)
	assert.False(t, ok)
}
