package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/model"
	"github.com/relaychat/relay/internal/util"
)

// API is the server surface the store talks to. The HTTP client in
// this package implements it; tests substitute fakes.
type API interface {
	GetHistory(ctx context.Context, channelID string, beforeNo int64, limit int) (HistoryPage, error)
	PostMessage(ctx context.Context, channelID, content, clientMsgID string) error
	MarkRead(ctx context.Context, channelID string, messageNo int64, messageID string) error
}

// ChannelStore holds one channel's cache. All cache mutations are
// serialized through one mutex, one mutation at a time in arrival
// order, so a pagination completion and a realtime arrival can never
// interleave mid-update, and the UI's Snapshot always sees a
// consistent cache.
type ChannelStore struct {
	channelID   string
	localUserID string
	api         API
	pageSize    int
	log         *zap.Logger

	mu          sync.Mutex
	cache       Cache
	workspaceID string
	fetchGen    int  // bumped by Reset; stale older-page fetches are discarded
	fetching    bool // at most one in-flight older-page fetch
	viewing     bool
	atBottom    bool
}

func newChannelStore(channelID, localUserID string, api API, pageSize int, log *zap.Logger) *ChannelStore {
	return &ChannelStore{
		channelID:   channelID,
		localUserID: localUserID,
		api:         api,
		pageSize:    pageSize,
		log:         log.With(zap.String("channel_id", channelID)),
	}
}

// Snapshot returns the cache for rendering. Callers must treat it as
// read-only.
func (cs *ChannelStore) Snapshot() Cache {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.cache
}

// Load fetches the initial page: every unread message when any exist,
// otherwise the newest pageSize. After Load the cache holds the newest
// known message, so pagination only ever walks backward.
func (cs *ChannelStore) Load(ctx context.Context) error {
	page, err := cs.api.GetHistory(ctx, cs.channelID, 0, cs.pageSize)
	if err != nil {
		return err
	}

	// Everything at or past the separator is unread. A separator index
	// of -1 with StartedFromUnread set means the unread run was capped
	// and the whole page is unread; otherwise everything is read.
	var lastRead int64
	switch {
	case page.StartedFromUnread && page.FirstUnreadIndex >= 0 && page.FirstUnreadIndex < len(page.Messages):
		lastRead = page.Messages[page.FirstUnreadIndex].MessageNo - 1
	case page.StartedFromUnread && len(page.Messages) > 0:
		lastRead = page.Messages[0].MessageNo - 1
	case len(page.Messages) > 0:
		lastRead = page.Messages[len(page.Messages)-1].MessageNo
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.fetchGen++
	cs.fetching = false
	cs.cache = loadInitial(page, lastRead)
	if len(page.Messages) > 0 {
		cs.workspaceID = page.Messages[0].WorkspaceID
	}
	return nil
}

// Resync drops the cache and reloads the initial page. The defensive
// answer to sustained inconsistency; cheaper than incremental patching
// and always correct.
func (cs *ChannelStore) Resync(ctx context.Context) error {
	cs.Reset()
	return cs.Load(ctx)
}

// Reset clears the cache and invalidates any in-flight older fetch.
func (cs *ChannelStore) Reset() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.fetchGen++
	cs.fetching = false
	cs.cache = Cache{}
}

// LoadOlder fetches the next older page and prepends it. A completion
// that raced a Reset (channel switched, resync) is discarded instead
// of landing in the wrong cache state.
func (cs *ChannelStore) LoadOlder(ctx context.Context) error {
	cs.mu.Lock()
	if !cs.cache.Loaded || cs.cache.PrevCursor == 0 || cs.fetching {
		cs.mu.Unlock()
		return nil
	}
	cs.fetching = true
	gen := cs.fetchGen
	cursor := cs.cache.PrevCursor
	cs.mu.Unlock()

	page, err := cs.api.GetHistory(ctx, cs.channelID, cursor, cs.pageSize)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if gen != cs.fetchGen {
		// stale completion, the cache moved on without us
		return nil
	}
	cs.fetching = false
	if err != nil {
		return err
	}
	cs.cache = prependOlder(cs.cache, page)
	return nil
}

// Send inserts an optimistic placeholder and posts the message. The
// placeholder carries a fresh correlation id; the confirmed event
// replaces it in place when it comes back over the realtime stream.
// On a failed post the placeholder is withdrawn.
func (cs *ChannelStore) Send(ctx context.Context, content string) (string, error) {
	corrID := util.NewULID()

	placeholder := CachedMessage{
		Message: model.Message{
			ID:        "pending-" + corrID,
			ChannelID: cs.channelID,
			UserID:    cs.localUserID,
			Content:   content,
		},
		ClientMsgID: corrID,
	}

	cs.mu.Lock()
	cs.cache = appendOptimistic(cs.cache, placeholder)
	cs.mu.Unlock()

	if err := cs.api.PostMessage(ctx, cs.channelID, content, corrID); err != nil {
		cs.mu.Lock()
		cs.cache = removePending(cs.cache, corrID)
		cs.mu.Unlock()
		return "", err
	}
	return corrID, nil
}

// ApplyConfirmed feeds one confirmed message from the realtime stream
// into the cache and returns the scroll action for the UI.
func (cs *ChannelStore) ApplyConfirmed(m model.Message, correlationID string) ScrollAction {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.workspaceID == "" {
		cs.workspaceID = m.WorkspaceID
	}

	before := cs.cache.Measure()
	cs.cache = applyConfirmed(cs.cache, m, correlationID)
	after := cs.cache.Measure()

	local := m.UserID == cs.localUserID
	grew := after.MessageCount > before.MessageCount

	// The badge counts remote arrivals the viewer has not seen: never
	// own messages, never duplicates, never while watching the bottom
	// of this exact channel.
	if grew && !local && !(cs.viewing && cs.atBottom) {
		cs.cache.Badge++
	}

	return DecideScroll(before, after, local, cs.atBottom)
}

// ApplyEdit replaces an edited message in place.
func (cs *ChannelStore) ApplyEdit(m model.Message) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cache = applyEdit(cs.cache, m)
}

// ApplyReadReceipt syncs a read position advanced on another device.
func (cs *ChannelStore) ApplyReadReceipt(lastReadNo int64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cache = advanceRead(cs.cache, lastReadNo)
}

// SetViewing records whether this channel is on screen and whether the
// viewport sits at the bottom. Reaching the bottom of the active
// channel marks it read.
func (cs *ChannelStore) SetViewing(ctx context.Context, viewing, atBottom bool) {
	cs.mu.Lock()
	cs.viewing = viewing
	cs.atBottom = atBottom
	cs.mu.Unlock()

	if viewing && atBottom {
		cs.MaybeMarkRead(ctx)
	}
}

// MaybeMarkRead advances the read cursor to the newest confirmed
// message when the viewer is at the bottom and something newer than
// the recorded position exists. The advance is monotonic end to end:
// here, on the server, and on every other session.
func (cs *ChannelStore) MaybeMarkRead(ctx context.Context) {
	cs.mu.Lock()
	if !cs.viewing || !cs.atBottom {
		cs.mu.Unlock()
		return
	}
	newest, ok := cs.cache.Newest()
	if !ok || newest.Pending || newest.MessageNo <= cs.cache.LastReadNo {
		cs.mu.Unlock()
		return
	}
	no, id := newest.MessageNo, newest.ID
	cs.cache = advanceRead(cs.cache, no)
	cs.mu.Unlock()

	if err := cs.api.MarkRead(ctx, cs.channelID, no, id); err != nil {
		cs.log.Warn("mark read failed", zap.Error(err))
	}
}

func removePending(c Cache, correlationID string) Cache {
	for pi := range c.Pages {
		ms := c.Pages[pi].Messages
		for mi := range ms {
			if ms[mi].Pending && ms[mi].ClientMsgID == correlationID {
				c.Pages[pi].Messages = append(ms[:mi:mi], ms[mi+1:]...)
				return c
			}
		}
	}
	return c
}

// Store manages the per-channel stores and routes realtime events to
// them. One Store per connected session.
type Store struct {
	api         API
	localUserID string
	pageSize    int
	log         *zap.Logger

	mu       sync.Mutex
	channels map[string]*ChannelStore
	active   string
}

func NewStore(api API, localUserID string, pageSize int, log *zap.Logger) *Store {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Store{
		api:         api,
		localUserID: localUserID,
		pageSize:    pageSize,
		log:         log,
		channels:    make(map[string]*ChannelStore),
	}
}

// Channel returns (creating if needed) the store for a channel.
func (s *Store) Channel(channelID string) *ChannelStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.channels[channelID]
	if !ok {
		cs = newChannelStore(channelID, s.localUserID, s.api, s.pageSize, s.log)
		s.channels[channelID] = cs
	}
	return cs
}

// SetActive switches the on-screen channel. The store left behind
// keeps its cache but stops counting as "viewing"; its in-flight
// pagination, if any, still lands in its own cache, never the new
// channel's.
func (s *Store) SetActive(ctx context.Context, channelID string) *ChannelStore {
	s.mu.Lock()
	prev := s.active
	s.active = channelID
	prevStore := s.channels[prev]
	s.mu.Unlock()

	if prevStore != nil && prev != channelID {
		prevStore.SetViewing(ctx, false, false)
	}
	return s.Channel(channelID)
}

// HandleEvent dispatches one realtime push frame. Event types arrive
// in colon form over the stream ("message:created"); dotted form is
// accepted too.
func (s *Store) HandleEvent(ctx context.Context, eventType string, data json.RawMessage) {
	switch strings.ReplaceAll(eventType, ":", ".") {
	case model.KeyMessageCreated:
		var d model.MessageCreatedData
		if err := json.Unmarshal(data, &d); err != nil {
			s.log.Warn("bad message push", zap.Error(err))
			return
		}
		cs := s.Channel(d.Message.ChannelID)
		cs.ApplyConfirmed(d.Message, d.ClientMsgID)
		cs.MaybeMarkRead(ctx)

	case model.KeyMessageUpdated:
		var d model.MessageCreatedData
		if err := json.Unmarshal(data, &d); err != nil {
			return
		}
		s.Channel(d.Message.ChannelID).ApplyEdit(d.Message)

	case model.KeyReadReceiptUpdated:
		var d model.ReadReceiptData
		if err := json.Unmarshal(data, &d); err != nil {
			return
		}
		if d.UserID == s.localUserID {
			s.Channel(d.ChannelID).ApplyReadReceipt(d.LastReadMessageNo)
		}

	case model.KeyChannelDeleted:
		var d model.ChannelEventData
		if err := json.Unmarshal(data, &d); err != nil {
			return
		}
		s.drop(func(cs *ChannelStore) bool { return cs.channelID == d.Channel.ID })

	case model.KeyWorkspaceDeleted:
		var d model.WorkspaceDeletedData
		if err := json.Unmarshal(data, &d); err != nil {
			return
		}
		s.drop(func(cs *ChannelStore) bool { return cs.workspaceID == d.WorkspaceID })
	}
}

func (s *Store) drop(match func(*ChannelStore) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cs := range s.channels {
		cs.mu.Lock()
		hit := match(cs)
		cs.mu.Unlock()
		if hit {
			cs.Reset()
			delete(s.channels, id)
		}
	}
}
