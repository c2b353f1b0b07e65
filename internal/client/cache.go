// Package client implements the message-synchronization state machine
// a connected chat client runs per channel: unread-first initial load,
// backward pagination, optimistic send reconciliation, read tracking
// and scroll-position decisions.
//
// The cache itself is a value type mutated only through pure
// reducer-style functions, so recorded event sequences can be replayed
// deterministically in tests.
package client

import (
	"github.com/relaychat/relay/internal/model"
)

// CachedMessage is a message as the client holds it. Pending marks an
// optimistic placeholder that has not been confirmed by the server
// yet; its ClientMsgID is the correlation id used for reconciliation.
type CachedMessage struct {
	model.Message
	Pending     bool   `json:"pending,omitempty"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

// Page is one fetched history page, messages ascending by messageNo.
type Page struct {
	Messages []CachedMessage
}

// Cache is the per-channel message cache: pages ordered oldest to
// newest, flattening to one globally ascending messageNo sequence.
//
// FirstUnreadNo is fixed once at initial load so the "new messages"
// separator does not jump as older pages load. PrevCursor is the
// cursor for the next older fetch; 0 means history is exhausted.
type Cache struct {
	Pages             []Page
	PrevCursor        int64
	FirstUnreadNo     int64 // messageNo of the first unread at load; 0 = none
	StartedFromUnread bool
	LastReadNo        int64
	Badge             int
	Loaded            bool
}

// HistoryPage mirrors the getHistory wire response.
type HistoryPage struct {
	Messages          []model.Message `json:"messages"`
	PrevCursor        int64           `json:"prevCursor"`
	FirstUnreadIndex  int             `json:"firstUnreadIndex"`
	StartedFromUnread bool            `json:"startedFromUnread"`
}

func toCached(ms []model.Message) []CachedMessage {
	out := make([]CachedMessage, len(ms))
	for i, m := range ms {
		out[i] = CachedMessage{Message: m}
		if m.ClientMsgID != nil {
			out[i].ClientMsgID = *m.ClientMsgID
		}
	}
	return out
}

// loadInitial seeds the cache from the first page. The page always
// contains the newest known message, so later growth comes only from
// the realtime stream; pagination from here on is strictly backward.
func loadInitial(page HistoryPage, lastReadNo int64) Cache {
	c := Cache{
		Pages:             []Page{{Messages: toCached(page.Messages)}},
		PrevCursor:        page.PrevCursor,
		StartedFromUnread: page.StartedFromUnread,
		LastReadNo:        lastReadNo,
		Loaded:            true,
	}
	if page.StartedFromUnread && page.FirstUnreadIndex >= 0 && page.FirstUnreadIndex < len(page.Messages) {
		c.FirstUnreadNo = page.Messages[page.FirstUnreadIndex].MessageNo
	}
	return c
}

// prependOlder adds an older page at the front.
func prependOlder(c Cache, page HistoryPage) Cache {
	if len(page.Messages) == 0 {
		c.PrevCursor = 0
		return c
	}
	pages := make([]Page, 0, len(c.Pages)+1)
	pages = append(pages, Page{Messages: toCached(page.Messages)})
	pages = append(pages, c.Pages...)
	c.Pages = pages
	c.PrevCursor = page.PrevCursor
	return c
}

// appendOptimistic adds a pending placeholder to the newest page.
func appendOptimistic(c Cache, m CachedMessage) Cache {
	m.Pending = true
	if len(c.Pages) == 0 {
		c.Pages = []Page{{}}
	}
	last := len(c.Pages) - 1
	c.Pages[last].Messages = append(c.Pages[last].Messages, m)
	return c
}

// applyConfirmed reconciles a server-confirmed message:
//
//  1. a pending placeholder with a matching correlation id is replaced
//     in place, wherever it sits, not only in the newest page;
//  2. otherwise, if the confirmed id is already anywhere in the cache
//     (the same event can arrive via realtime and a resync), nothing
//     changes;
//  3. otherwise it is appended as a new message.
func applyConfirmed(c Cache, m model.Message, correlationID string) Cache {
	cm := CachedMessage{Message: m, ClientMsgID: correlationID}

	if correlationID != "" {
		for pi := range c.Pages {
			for mi := range c.Pages[pi].Messages {
				got := &c.Pages[pi].Messages[mi]
				if got.Pending && got.ClientMsgID == correlationID {
					*got = cm
					return c
				}
			}
		}
	}

	if containsID(c, m.ID) {
		return c
	}

	if len(c.Pages) == 0 {
		c.Pages = []Page{{}}
	}
	last := len(c.Pages) - 1
	c.Pages[last].Messages = append(c.Pages[last].Messages, cm)
	return c
}

// applyEdit replaces a message in place by id; unknown ids are ignored
// (the edit is outside the loaded window).
func applyEdit(c Cache, m model.Message) Cache {
	for pi := range c.Pages {
		for mi := range c.Pages[pi].Messages {
			if c.Pages[pi].Messages[mi].ID == m.ID {
				keep := c.Pages[pi].Messages[mi].ClientMsgID
				c.Pages[pi].Messages[mi] = CachedMessage{Message: m, ClientMsgID: keep}
				return c
			}
		}
	}
	return c
}

// advanceRead is monotonic: a stale position never regresses.
func advanceRead(c Cache, no int64) Cache {
	if no > c.LastReadNo {
		c.LastReadNo = no
		c.Badge = 0
	}
	return c
}

func containsID(c Cache, id string) bool {
	for _, p := range c.Pages {
		for _, m := range p.Messages {
			if m.ID == id {
				return true
			}
		}
	}
	return false
}

// Flatten returns the full ascending message sequence as the UI reads it.
func (c Cache) Flatten() []CachedMessage {
	n := 0
	for _, p := range c.Pages {
		n += len(p.Messages)
	}
	out := make([]CachedMessage, 0, n)
	for _, p := range c.Pages {
		out = append(out, p.Messages...)
	}
	return out
}

// Newest returns the newest cached message, if any.
func (c Cache) Newest() (CachedMessage, bool) {
	for i := len(c.Pages) - 1; i >= 0; i-- {
		ms := c.Pages[i].Messages
		if len(ms) > 0 {
			return ms[len(ms)-1], true
		}
	}
	return CachedMessage{}, false
}

// FirstUnreadIndex locates the load-time separator position in the
// flattened sequence, -1 when there is none. It is derived from the
// pinned FirstUnreadNo, so prepending older pages shifts it correctly
// instead of recomputing against a moving read cursor.
func (c Cache) FirstUnreadIndex() int {
	if c.FirstUnreadNo == 0 {
		return -1
	}
	for i, m := range c.Flatten() {
		if m.MessageNo >= c.FirstUnreadNo {
			return i
		}
	}
	return -1
}
