package chat

import (
	"context"

	"github.com/relaychat/relay/internal/model"
)

// HistoryPage is the getHistory response. Messages are ascending by
// messageNo. PrevCursor is the oldest messageNo in the page (pass it
// back as `before` to walk older history); 0 means the beginning of
// the channel is already in the page. FirstUnreadIndex is -1 when
// nothing in the page is unread, or when StartedFromUnread is set but
// the first unread message is older than the capped page.
type HistoryPage struct {
	Messages          []model.Message `json:"messages"`
	PrevCursor        int64           `json:"prevCursor"`
	FirstUnreadIndex  int             `json:"firstUnreadIndex"`
	StartedFromUnread bool            `json:"startedFromUnread"`
}

// GetHistory serves backward pagination. There is deliberately no
// forward cursor: the initial page always reaches the newest message
// (unread-first when unread messages exist), so new messages only ever
// arrive over the realtime stream and older ones via `before`.
func (s *Service) GetHistory(ctx context.Context, userID, channelID string, beforeNo int64, limit int) (HistoryPage, error) {
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return HistoryPage{}, err
	}
	if ch == nil {
		return HistoryPage{}, ErrChannelNotFound
	}

	member, err := s.channels.IsMember(ctx, channelID, userID)
	if err != nil {
		return HistoryPage{}, err
	}
	if !member {
		return HistoryPage{}, ErrNotAMember
	}

	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	if beforeNo > 0 {
		return s.olderPage(ctx, channelID, beforeNo, limit)
	}
	return s.initialPage(ctx, userID, channelID, ch.LastMessageNo, limit)
}

func (s *Service) olderPage(ctx context.Context, channelID string, beforeNo int64, limit int) (HistoryPage, error) {
	msgs, err := s.msgs.HistoryBefore(ctx, channelID, beforeNo, limit)
	if err != nil {
		return HistoryPage{}, err
	}
	return HistoryPage{
		Messages:         msgs,
		PrevCursor:       prevCursor(msgs),
		FirstUnreadIndex: -1,
	}, nil
}

// initialPage returns a page that always contains the newest message.
// When unread messages exist the page stretches back far enough to
// contain all of them (capped at maxPageSize), so the "new messages"
// separator can be placed without a second fetch.
func (s *Service) initialPage(ctx context.Context, userID, channelID string, lastNo int64, limit int) (HistoryPage, error) {
	var lastRead int64
	if rr, err := s.receipts.Get(ctx, channelID, userID); err != nil {
		return HistoryPage{}, err
	} else if rr != nil {
		lastRead = rr.LastReadMessageNo
	}

	unread := lastNo - lastRead
	if unread < 0 {
		unread = 0
	}

	fetch := limit
	if int(unread) > fetch {
		fetch = int(unread)
	}
	if fetch > s.maxPageSize {
		fetch = s.maxPageSize
	}

	msgs, err := s.msgs.Latest(ctx, channelID, fetch)
	if err != nil {
		return HistoryPage{}, err
	}

	page := HistoryPage{
		Messages:          msgs,
		PrevCursor:        prevCursor(msgs),
		FirstUnreadIndex:  -1,
		StartedFromUnread: unread > 0,
	}

	// When the unread run was capped the true first unread fell off the
	// page; keep the index at -1 so clients do not pin the separator to
	// a message that was actually read.
	if unread > 0 && len(msgs) > 0 && msgs[0].MessageNo <= lastRead+1 {
		for i, m := range msgs {
			if m.MessageNo > lastRead {
				page.FirstUnreadIndex = i
				break
			}
		}
	}

	return page, nil
}

// prevCursor returns the oldest messageNo of the page, or 0 when the
// page already starts at the first message of the channel.
func prevCursor(msgs []model.Message) int64 {
	if len(msgs) == 0 {
		return 0
	}
	oldest := msgs[0].MessageNo
	if oldest <= 1 {
		return 0
	}
	return oldest
}
