package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay/internal/model"
	"github.com/relaychat/relay/internal/repository"
)

// fakeMessages serves a contiguous log 1..n for one channel.
type fakeMessages struct {
	repository.MessagesRepository
	n int64
}

func (f *fakeMessages) msg(no int64) model.Message {
	return model.Message{
		ID:        fmt.Sprintf("m%04d", no),
		ChannelID: "ch1",
		UserID:    "u-bob",
		MessageNo: no,
	}
}

func (f *fakeMessages) HistoryBefore(_ context.Context, _ string, beforeNo int64, limit int) ([]model.Message, error) {
	var out []model.Message
	start := beforeNo - int64(limit)
	if start < 1 {
		start = 1
	}
	for no := start; no < beforeNo && no <= f.n; no++ {
		out = append(out, f.msg(no))
	}
	return out, nil
}

func (f *fakeMessages) Latest(_ context.Context, _ string, limit int) ([]model.Message, error) {
	var out []model.Message
	start := f.n - int64(limit) + 1
	if start < 1 {
		start = 1
	}
	for no := start; no <= f.n; no++ {
		out = append(out, f.msg(no))
	}
	return out, nil
}

type fakeChannels struct {
	repository.ChannelsRepository
	lastNo   int64
	member   bool
	noExists bool
}

func (f *fakeChannels) Get(_ context.Context, id string) (*model.Channel, error) {
	if f.noExists {
		return nil, nil
	}
	return &model.Channel{ID: id, WorkspaceID: "ws1", LastMessageNo: f.lastNo}, nil
}

func (f *fakeChannels) IsMember(context.Context, string, string) (bool, error) {
	return f.member, nil
}

type fakeReceipts struct {
	repository.ReadReceiptsRepository
	lastRead int64
}

func (f *fakeReceipts) Get(_ context.Context, channelID, userID string) (*model.ReadReceipt, error) {
	if f.lastRead == 0 {
		return nil, nil
	}
	return &model.ReadReceipt{ChannelID: channelID, UserID: userID, LastReadMessageNo: f.lastRead}, nil
}

func historyService(n, lastRead int64) *Service {
	return New(
		&sqlx.DB{},
		&fakeMessages{n: n},
		&fakeChannels{lastNo: n, member: true},
		nil, &fakeReceipts{lastRead: lastRead}, nil, nil,
		10, 40,
	)
}

func TestGetHistoryInitialPageAllRead(t *testing.T) {
	s := historyService(100, 100)

	page, err := s.GetHistory(context.Background(), "u-alice", "ch1", 0, 0)
	require.NoError(t, err)

	require.Len(t, page.Messages, 10)
	assert.Equal(t, int64(91), page.Messages[0].MessageNo)
	assert.Equal(t, int64(100), page.Messages[9].MessageNo)
	assert.Equal(t, int64(91), page.PrevCursor)
	assert.Equal(t, -1, page.FirstUnreadIndex)
	assert.False(t, page.StartedFromUnread)
}

func TestGetHistoryInitialPageStretchesOverUnread(t *testing.T) {
	// 25 unread: more than the page size, page grows to cover them all
	s := historyService(100, 75)

	page, err := s.GetHistory(context.Background(), "u-alice", "ch1", 0, 0)
	require.NoError(t, err)

	require.Len(t, page.Messages, 25)
	assert.Equal(t, int64(76), page.Messages[0].MessageNo)
	assert.True(t, page.StartedFromUnread)
	assert.Equal(t, 0, page.FirstUnreadIndex)
}

func TestGetHistoryUnreadCappedAtMaxPageSize(t *testing.T) {
	// 60 unread against a max page of 40: cap wins, newest stay included
	s := historyService(100, 40)

	page, err := s.GetHistory(context.Background(), "u-alice", "ch1", 0, 0)
	require.NoError(t, err)

	require.Len(t, page.Messages, 40)
	assert.Equal(t, int64(61), page.Messages[0].MessageNo)
	assert.Equal(t, int64(100), page.Messages[39].MessageNo)
	assert.True(t, page.StartedFromUnread)
	// the true first unread (41) fell off the capped page: the index
	// must not point at a message, or clients would draw the separator
	// on a read one after paginating back
	assert.Equal(t, -1, page.FirstUnreadIndex)
}

func TestGetHistoryCapBoundaryKeepsSeparator(t *testing.T) {
	// exactly maxPageSize unread: the first unread is the oldest row of
	// the page, so the separator stays in-page
	s := historyService(100, 60)

	page, err := s.GetHistory(context.Background(), "u-alice", "ch1", 0, 0)
	require.NoError(t, err)

	require.Len(t, page.Messages, 40)
	assert.Equal(t, int64(61), page.Messages[0].MessageNo)
	assert.True(t, page.StartedFromUnread)
	assert.Equal(t, 0, page.FirstUnreadIndex)
}

func TestGetHistorySeparatorInsideMixedPage(t *testing.T) {
	// 4 unread inside a 10-message page
	s := historyService(100, 96)

	page, err := s.GetHistory(context.Background(), "u-alice", "ch1", 0, 0)
	require.NoError(t, err)

	require.Len(t, page.Messages, 10)
	assert.Equal(t, 6, page.FirstUnreadIndex)
	assert.Equal(t, int64(97), page.Messages[6].MessageNo)
}

func TestGetHistoryOlderPage(t *testing.T) {
	s := historyService(100, 100)

	page, err := s.GetHistory(context.Background(), "u-alice", "ch1", 91, 0)
	require.NoError(t, err)

	require.Len(t, page.Messages, 10)
	assert.Equal(t, int64(81), page.Messages[0].MessageNo)
	assert.Equal(t, int64(90), page.Messages[9].MessageNo)
	assert.Equal(t, int64(81), page.PrevCursor)
	assert.Equal(t, -1, page.FirstUnreadIndex)
}

func TestGetHistoryPrevCursorEndsAtChannelStart(t *testing.T) {
	s := historyService(100, 100)

	page, err := s.GetHistory(context.Background(), "u-alice", "ch1", 11, 0)
	require.NoError(t, err)

	require.Len(t, page.Messages, 10)
	assert.Equal(t, int64(1), page.Messages[0].MessageNo)
	assert.Zero(t, page.PrevCursor, "reaching message 1 ends pagination")
}

func TestGetHistoryRequiresMembership(t *testing.T) {
	s := New(&sqlx.DB{}, &fakeMessages{n: 10}, &fakeChannels{lastNo: 10}, nil, &fakeReceipts{}, nil, nil, 10, 40)

	_, err := s.GetHistory(context.Background(), "u-alice", "ch1", 0, 0)
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestGetHistoryUnknownChannel(t *testing.T) {
	s := New(&sqlx.DB{}, &fakeMessages{n: 10}, &fakeChannels{noExists: true}, nil, &fakeReceipts{}, nil, nil, 10, 40)

	_, err := s.GetHistory(context.Background(), "u-alice", "ch1", 0, 0)
	assert.ErrorIs(t, err, ErrChannelNotFound)
}
