package client

// ScrollAction tells the UI how to treat the viewport after a cache
// change.
type ScrollAction int

const (
	// ScrollNone: nothing relevant changed.
	ScrollNone ScrollAction = iota
	// ScrollPreserveOffset: an older page was prepended above the
	// viewport; shift the offset by the added height so visible
	// messages do not move.
	ScrollPreserveOffset
	// ScrollToBottom: pin the viewport to the newest message.
	ScrollToBottom
	// ScrollShowNewIndicator: leave the viewport alone and surface a
	// "new messages" affordance instead.
	ScrollShowNewIndicator
)

func (a ScrollAction) String() string {
	switch a {
	case ScrollPreserveOffset:
		return "preserve-offset"
	case ScrollToBottom:
		return "to-bottom"
	case ScrollShowNewIndicator:
		return "show-new-indicator"
	default:
		return "none"
	}
}

// RenderState is what the UI measures between two renders.
type RenderState struct {
	PageCount    int
	MessageCount int
}

// Measure captures the cache's render state.
func (c Cache) Measure() RenderState {
	n := 0
	for _, p := range c.Pages {
		n += len(p.Messages)
	}
	return RenderState{PageCount: len(c.Pages), MessageCount: n}
}

// DecideScroll distinguishes the two append patterns by comparing page
// and message count deltas:
//
//   - page count grew: older history was prepended, keep the visible
//     messages stationary;
//   - page count unchanged but message count grew: a new message
//     arrived at the bottom. The local author always jumps there; an
//     onlooker already pinned to the bottom stays pinned; anyone
//     scrolled up gets an indicator, never a forced scroll.
func DecideScroll(prev, next RenderState, authoredByLocalUser, pinnedToBottom bool) ScrollAction {
	if next.PageCount > prev.PageCount {
		return ScrollPreserveOffset
	}
	if next.PageCount == prev.PageCount && next.MessageCount > prev.MessageCount {
		if authoredByLocalUser {
			return ScrollToBottom
		}
		if pinnedToBottom {
			return ScrollToBottom
		}
		return ScrollShowNewIndicator
	}
	return ScrollNone
}
