package chat

import "sync"

type ScrollAction int

const (
	ScrollNone ScrollAction = iota
	// ScrollJump moves to the latest message without animation
	ScrollJump
	// ScrollSmooth animates to the latest message
	ScrollSmooth
)

func (a ScrollAction) String() string {
	switch a {
	case ScrollJump:
		return "jump"
	case ScrollSmooth:
		return "smooth"
	}
	return "none"
}

const (
	// NearBottomThreshold is how far from the bottom, in pixels, still counts as following the conversation.
	NearBottomThreshold = 120.0
	// JumpToLatestThreshold is the offset beyond which the jump-to-latest affordance shows.
	JumpToLatestThreshold = 300.0
	// JumpToLatestMinMessages is the message count the affordance needs to be worth showing.
	JumpToLatestMinMessages = 5
)

// ScrollTracker decides how the message view follows new content. It only
// knows the reader's distance from the bottom of the list.
type ScrollTracker struct {
	mu     sync.Mutex
	offset float64
}

// OnScroll records the reader's current distance from the bottom.
func (s *ScrollTracker) OnScroll(offsetFromBottom float64) {
	if offsetFromBottom < 0 {
		offsetFromBottom = 0
	}
	s.mu.Lock()
	s.offset = offsetFromBottom
	s.mu.Unlock()
}

func (s *ScrollTracker) OnConversationSwitch() ScrollAction {
	s.mu.Lock()
	s.offset = 0
	s.mu.Unlock()
	return ScrollJump
}

// OnNewMessage follows the conversation only when the reader is near the
// bottom; a reader browsing history is left where they are.
func (s *ScrollTracker) OnNewMessage() ScrollAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offset > NearBottomThreshold {
		return ScrollNone
	}
	s.offset = 0
	return ScrollSmooth
}

// OnOwnMessage always brings the reader's own send into view.
func (s *ScrollTracker) OnOwnMessage() ScrollAction {
	return s.JumpToLatest()
}

func (s *ScrollTracker) JumpToLatest() ScrollAction {
	s.mu.Lock()
	s.offset = 0
	s.mu.Unlock()
	return ScrollSmooth
}

func (s *ScrollTracker) ShowJumpToLatest(messageCount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset > JumpToLatestThreshold && messageCount > JumpToLatestMinMessages
}
