package chatclient

import "context"

// PageAPI fetches history pages.
type PageAPI interface {
	List(ctx context.Context, roomID int64, limit, offset int) (Page, error)
}

// Pager walks a room's history backward. Appends at the head shift older
// comments to higher offsets, which can only repeat comments; repeats are
// dropped by id.
type Pager struct {
	api    PageAPI
	roomID int64
	limit  int
	offset int
	seen   map[int64]struct{}
	done   bool
}

// NewPager constructs a Pager requesting limit comments per page. The server
// may apply a smaller limit; the pager follows whatever it reports.
func NewPager(api PageAPI, roomID int64, limit int) *Pager {
	if limit <= 0 {
		limit = 50
	}
	return &Pager{api: api, roomID: roomID, limit: limit, seen: make(map[int64]struct{})}
}

// Next returns the next batch of unseen comments, newest first. A failed
// fetch leaves the cursor where it was. After the first short page Done
// reports true and Next returns nothing.
func (p *Pager) Next(ctx context.Context) ([]Comment, error) {
	if p.done {
		return nil, nil
	}
	page, err := p.api.List(ctx, p.roomID, p.limit, p.offset)
	if err != nil {
		return nil, err
	}

	fresh := make([]Comment, 0, len(page.Comments))
	for _, c := range page.Comments {
		if _, ok := p.seen[c.ID]; ok {
			continue
		}
		p.seen[c.ID] = struct{}{}
		fresh = append(fresh, c)
	}
	if page.Limit > 0 && page.Limit < p.limit {
		p.limit = page.Limit
	}
	p.offset += len(page.Comments)
	if len(page.Comments) < p.limit {
		p.done = true
	}
	return fresh, nil
}

// Done reports whether history is exhausted.
func (p *Pager) Done() bool { return p.done }

// Limit is the page size of the next fetch.
func (p *Pager) Limit() int { return p.limit }

// Offset is the server offset of the next fetch.
func (p *Pager) Offset() int { return p.offset }
