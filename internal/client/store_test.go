package client

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/model"
)

func mkMsg(no int64, userID string) model.Message {
	return model.Message{
		ID:        fmt.Sprintf("m%04d", no),
		ChannelID: "ch1",
		UserID:    userID,
		Content:   fmt.Sprintf("message %d", no),
		MessageNo: no,
	}
}

type postCall struct {
	channelID, content, clientMsgID string
}

type readCall struct {
	channelID string
	messageNo int64
}

// fakeAPI serves history out of a fixed ascending message log, the way
// the server does: before=0 returns the newest window, before=k the
// window ending just under k. prevCursor is the oldest returned
// messageNo, 0 once the log is exhausted.
type fakeAPI struct {
	log []model.Message

	firstUnreadNo int64 // >0: initial page starts from unread
	maxPage       int   // >0: cap on how far the unread run stretches

	posts   []postCall
	postErr error
	reads   []readCall

	// onHistory, when set, runs before each fetch returns
	onHistory func()
}

func (f *fakeAPI) GetHistory(_ context.Context, channelID string, before int64, limit int) (HistoryPage, error) {
	if f.onHistory != nil {
		f.onHistory()
	}
	if limit <= 0 {
		limit = 50
	}

	window := f.log
	if before > 0 {
		cut := 0
		for i, m := range window {
			if m.MessageNo < before {
				cut = i + 1
			}
		}
		window = window[:cut]
	}

	page := HistoryPage{FirstUnreadIndex: -1}
	if before == 0 && f.firstUnreadNo > 0 {
		unread := 0
		for _, m := range window {
			if m.MessageNo >= f.firstUnreadNo {
				unread++
			}
		}
		if unread > limit {
			limit = unread
		}
		if f.maxPage > 0 && limit > f.maxPage {
			limit = f.maxPage
		}
		page.StartedFromUnread = true
	}

	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	page.Messages = window

	// separator only when the first unread made it into the window
	if page.StartedFromUnread && len(window) > 0 && window[0].MessageNo <= f.firstUnreadNo {
		for i, m := range window {
			if m.MessageNo >= f.firstUnreadNo {
				page.FirstUnreadIndex = i
				break
			}
		}
	}
	if len(window) > 0 && window[0].MessageNo > 1 {
		page.PrevCursor = window[0].MessageNo
	}
	return page, nil
}

func (f *fakeAPI) PostMessage(_ context.Context, channelID, content, clientMsgID string) error {
	if f.postErr != nil {
		return f.postErr
	}
	f.posts = append(f.posts, postCall{channelID, content, clientMsgID})
	return nil
}

func (f *fakeAPI) MarkRead(_ context.Context, channelID string, messageNo int64, _ string) error {
	f.reads = append(f.reads, readCall{channelID, messageNo})
	return nil
}

func logOf(n int) []model.Message {
	out := make([]model.Message, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, mkMsg(int64(i), "u-bob"))
	}
	return out
}

func newTestChannelStore(api *fakeAPI) *ChannelStore {
	return newChannelStore("ch1", "u-alice", api, 10, zap.NewNop())
}

func TestLoadNewestWindow(t *testing.T) {
	api := &fakeAPI{log: logOf(35)}
	cs := newTestChannelStore(api)

	require.NoError(t, cs.Load(context.Background()))

	c := cs.Snapshot()
	flat := c.Flatten()
	require.Len(t, flat, 10)
	assert.Equal(t, int64(26), flat[0].MessageNo)
	assert.Equal(t, int64(35), flat[9].MessageNo)
	assert.Equal(t, int64(26), c.PrevCursor)
	assert.Equal(t, -1, c.FirstUnreadIndex())
	assert.Equal(t, int64(35), c.LastReadNo, "no unread means everything is read")
}

func TestLoadUnreadFirst(t *testing.T) {
	// 22 unread out of 35: the initial page must cover all of them
	api := &fakeAPI{log: logOf(35), firstUnreadNo: 14}
	cs := newTestChannelStore(api)

	require.NoError(t, cs.Load(context.Background()))

	c := cs.Snapshot()
	flat := c.Flatten()
	require.Len(t, flat, 22)
	assert.Equal(t, int64(14), flat[0].MessageNo)
	assert.True(t, c.StartedFromUnread)
	assert.Equal(t, 0, c.FirstUnreadIndex())
	assert.Equal(t, int64(13), c.LastReadNo)
}

func TestLoadCappedUnreadRun(t *testing.T) {
	// 60 unread but the server caps the page at 40: the separator is
	// older than the page, so none is drawn, and the whole page counts
	// as unread rather than read
	api := &fakeAPI{log: logOf(100), firstUnreadNo: 41, maxPage: 40}
	cs := newTestChannelStore(api)

	require.NoError(t, cs.Load(context.Background()))

	c := cs.Snapshot()
	flat := c.Flatten()
	require.Len(t, flat, 40)
	assert.Equal(t, int64(61), flat[0].MessageNo)
	assert.True(t, c.StartedFromUnread)
	assert.Equal(t, -1, c.FirstUnreadIndex())
	assert.Equal(t, int64(60), c.LastReadNo)
}

func TestPaginationIsGapFree(t *testing.T) {
	api := &fakeAPI{log: logOf(43)}
	cs := newTestChannelStore(api)
	ctx := context.Background()

	require.NoError(t, cs.Load(ctx))
	for i := 0; i < 20 && cs.Snapshot().PrevCursor != 0; i++ {
		require.NoError(t, cs.LoadOlder(ctx))
	}

	c := cs.Snapshot()
	assert.Zero(t, c.PrevCursor)

	flat := c.Flatten()
	require.Len(t, flat, 43)
	for i, m := range flat {
		assert.Equal(t, int64(i+1), m.MessageNo, "no gaps, no duplicates, ascending")
	}
}

func TestSeparatorStaysPinnedAcrossPagination(t *testing.T) {
	api := &fakeAPI{log: logOf(40), firstUnreadNo: 31}
	cs := newTestChannelStore(api)
	ctx := context.Background()

	require.NoError(t, cs.Load(ctx))
	assert.Equal(t, 0, cs.Snapshot().FirstUnreadIndex())

	require.NoError(t, cs.LoadOlder(ctx))

	// ten older messages shifted the separator down by ten
	c := cs.Snapshot()
	assert.Equal(t, 10, c.FirstUnreadIndex())
	assert.Equal(t, int64(31), c.Flatten()[c.FirstUnreadIndex()].MessageNo)
}

func TestOptimisticSendReconciled(t *testing.T) {
	api := &fakeAPI{log: logOf(12)}
	cs := newTestChannelStore(api)
	ctx := context.Background()
	require.NoError(t, cs.Load(ctx))

	corrID, err := cs.Send(ctx, "hello")
	require.NoError(t, err)
	require.Len(t, api.posts, 1)
	assert.Equal(t, corrID, api.posts[0].clientMsgID)

	c := cs.Snapshot()
	flat := c.Flatten()
	require.Len(t, flat, 11)
	assert.True(t, flat[10].Pending)

	confirmed := mkMsg(13, "u-alice")
	cs.ApplyConfirmed(confirmed, corrID)

	flat = cs.Snapshot().Flatten()
	require.Len(t, flat, 11, "placeholder replaced, not appended")
	assert.False(t, flat[10].Pending)
	assert.Equal(t, confirmed.ID, flat[10].ID)
	assert.Equal(t, int64(13), flat[10].MessageNo)

	// the same confirmed message arriving again changes nothing
	cs.ApplyConfirmed(confirmed, corrID)
	assert.Len(t, cs.Snapshot().Flatten(), 11)
}

func TestFailedSendWithdrawsPlaceholder(t *testing.T) {
	api := &fakeAPI{log: logOf(5), postErr: fmt.Errorf("boom")}
	cs := newTestChannelStore(api)
	ctx := context.Background()
	require.NoError(t, cs.Load(ctx))

	_, err := cs.Send(ctx, "hello")
	require.Error(t, err)
	assert.Len(t, cs.Snapshot().Flatten(), 5)
}

func TestRemoteMessageAppended(t *testing.T) {
	api := &fakeAPI{log: logOf(5)}
	cs := newTestChannelStore(api)
	require.NoError(t, cs.Load(context.Background()))

	action := cs.ApplyConfirmed(mkMsg(6, "u-bob"), "")
	assert.Equal(t, ScrollShowNewIndicator, action)

	flat := cs.Snapshot().Flatten()
	require.Len(t, flat, 6)
	assert.Equal(t, int64(6), flat[5].MessageNo)
}

func TestReadCursorIsMonotonic(t *testing.T) {
	api := &fakeAPI{log: logOf(10)}
	cs := newTestChannelStore(api)
	require.NoError(t, cs.Load(context.Background()))

	cs.ApplyReadReceipt(8)
	cs.ApplyReadReceipt(5)
	assert.Equal(t, int64(10), cs.Snapshot().LastReadNo, "stale receipt never regresses the cursor")

	cs2 := newTestChannelStore(&fakeAPI{log: logOf(10), firstUnreadNo: 3})
	require.NoError(t, cs2.Load(context.Background()))
	assert.Equal(t, int64(2), cs2.Snapshot().LastReadNo)

	cs2.ApplyReadReceipt(8)
	assert.Equal(t, int64(8), cs2.Snapshot().LastReadNo)
	cs2.ApplyReadReceipt(5)
	assert.Equal(t, int64(8), cs2.Snapshot().LastReadNo)
}

func TestBadgeRules(t *testing.T) {
	api := &fakeAPI{log: logOf(5)}
	cs := newTestChannelStore(api)
	ctx := context.Background()
	require.NoError(t, cs.Load(ctx))

	// not viewing: remote arrival counts
	cs.ApplyConfirmed(mkMsg(6, "u-bob"), "")
	assert.Equal(t, 1, cs.Snapshot().Badge)

	// own message never counts
	cs.ApplyConfirmed(mkMsg(7, "u-alice"), "")
	assert.Equal(t, 1, cs.Snapshot().Badge)

	// duplicate never counts
	cs.ApplyConfirmed(mkMsg(6, "u-bob"), "")
	assert.Equal(t, 1, cs.Snapshot().Badge)

	// watching the bottom of this channel: no badge, cursor advances
	cs.SetViewing(ctx, true, true)
	assert.Equal(t, 0, cs.Snapshot().Badge, "reaching the bottom clears the badge")
	cs.ApplyConfirmed(mkMsg(8, "u-bob"), "")
	assert.Equal(t, 0, cs.Snapshot().Badge)
}

func TestMarkReadAtBottom(t *testing.T) {
	api := &fakeAPI{log: logOf(7), firstUnreadNo: 6}
	cs := newTestChannelStore(api)
	ctx := context.Background()
	require.NoError(t, cs.Load(ctx))
	assert.Equal(t, int64(5), cs.Snapshot().LastReadNo)

	cs.SetViewing(ctx, true, true)

	require.Len(t, api.reads, 1)
	assert.Equal(t, int64(7), api.reads[0].messageNo)
	assert.Equal(t, int64(7), cs.Snapshot().LastReadNo)

	// nothing new: no second call
	cs.MaybeMarkRead(ctx)
	assert.Len(t, api.reads, 1)
}

func TestScrollDecisions(t *testing.T) {
	cases := []struct {
		name       string
		prev, next RenderState
		local      bool
		pinned     bool
		want       ScrollAction
	}{
		{"older page prepended", RenderState{1, 10}, RenderState{2, 20}, false, false, ScrollPreserveOffset},
		{"own message", RenderState{2, 20}, RenderState{2, 21}, true, false, ScrollToBottom},
		{"remote while pinned", RenderState{2, 20}, RenderState{2, 21}, false, true, ScrollToBottom},
		{"remote while scrolled up", RenderState{2, 20}, RenderState{2, 21}, false, false, ScrollShowNewIndicator},
		{"no change", RenderState{2, 20}, RenderState{2, 20}, false, true, ScrollNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecideScroll(tc.prev, tc.next, tc.local, tc.pinned))
		})
	}
}

func TestStaleOlderFetchDiscarded(t *testing.T) {
	api := &fakeAPI{log: logOf(30)}
	cs := newTestChannelStore(api)
	ctx := context.Background()
	require.NoError(t, cs.Load(ctx))

	// the cache is reset while the older fetch is in flight
	fired := false
	api.onHistory = func() {
		if !fired {
			fired = true
			cs.Reset()
		}
	}

	require.NoError(t, cs.LoadOlder(ctx))
	assert.False(t, cs.Snapshot().Loaded, "stale page must not land in the reset cache")
}

func TestEditPreservesCorrelation(t *testing.T) {
	api := &fakeAPI{log: logOf(4)}
	cs := newTestChannelStore(api)
	ctx := context.Background()
	require.NoError(t, cs.Load(ctx))

	corrID, err := cs.Send(ctx, "draft")
	require.NoError(t, err)
	cs.ApplyConfirmed(mkMsg(5, "u-alice"), corrID)

	edited := mkMsg(5, "u-alice")
	edited.Content = "final"
	edited.IsEdited = true
	cs.ApplyEdit(edited)

	flat := cs.Snapshot().Flatten()
	require.Len(t, flat, 5)
	assert.Equal(t, "final", flat[4].Content)
	assert.True(t, flat[4].IsEdited)
	assert.Equal(t, corrID, flat[4].ClientMsgID)
}

func TestStoreDispatchesEvents(t *testing.T) {
	api := &fakeAPI{log: logOf(3)}
	s := NewStore(api, "u-alice", 10, zap.NewNop())
	ctx := context.Background()

	cs := s.SetActive(ctx, "ch1")
	require.NoError(t, cs.Load(ctx))

	data, err := json.Marshal(model.MessageCreatedData{Message: mkMsg(4, "u-bob")})
	require.NoError(t, err)
	s.HandleEvent(ctx, "message:created", data)

	assert.Len(t, cs.Snapshot().Flatten(), 4)

	// a foreign read receipt is ignored, ours advances the cursor
	other, _ := json.Marshal(model.ReadReceiptData{ReadReceipt: model.ReadReceipt{ChannelID: "ch1", UserID: "u-bob", LastReadMessageNo: 9}})
	s.HandleEvent(ctx, "readreceipt:updated", other)
	ours, _ := json.Marshal(model.ReadReceiptData{ReadReceipt: model.ReadReceipt{ChannelID: "ch1", UserID: "u-alice", LastReadMessageNo: 4}})
	s.HandleEvent(ctx, "readreceipt:updated", ours)

	assert.Equal(t, int64(4), cs.Snapshot().LastReadNo)
}
