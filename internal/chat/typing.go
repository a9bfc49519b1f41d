package chat

import (
	"strings"
	"sync"
	"time"
)

// TypingTimeout is the input inactivity after which typing implicitly stops.
const TypingTimeout = 2 * time.Second

type TypingState int

const (
	TypingIdle TypingState = iota
	TypingActive
)

func (s TypingState) String() string {
	if s == TypingActive {
		return "typing"
	}
	return "idle"
}

// AfterFunc schedules f after d and returns a function that cancels it.
// time.AfterFunc satisfies it through DefaultAfterFunc.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func DefaultAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type TypingOption func(*TypingIndicator)

func WithTypingTimeout(d time.Duration) TypingOption {
	return func(t *TypingIndicator) { t.timeout = d }
}

func WithAfterFunc(fn AfterFunc) TypingOption {
	return func(t *TypingIndicator) { t.afterFunc = fn }
}

// TypingIndicator debounces the local input box into one start and one stop
// notification per burst of keystrokes.
//
//	Idle   --non-empty input-->  Typing  (start)
//	Typing --non-empty input-->  Typing  (timer reset)
//	Typing --timer expires---->  Idle    (stop)
//	Typing --input cleared---->  Idle    (stop, timer cancelled)
type TypingIndicator struct {
	onStart   func()
	onStop    func()
	timeout   time.Duration
	afterFunc AfterFunc

	mu     sync.Mutex
	state  TypingState
	cancel func() bool
	// gen identifies the live timer; expiries of older timers are ignored
	gen uint64
}

func NewTypingIndicator(onStart, onStop func(), opts ...TypingOption) *TypingIndicator {
	t := &TypingIndicator{
		onStart:   onStart,
		onStop:    onStop,
		timeout:   TypingTimeout,
		afterFunc: DefaultAfterFunc,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Input feeds the current content of the input box after a keystroke.
func (t *TypingIndicator) Input(text string) {
	if strings.TrimSpace(text) == "" {
		t.Stop()
		return
	}

	t.mu.Lock()
	started := t.state == TypingIdle
	t.state = TypingActive
	t.armLocked()
	t.mu.Unlock()

	if started && t.onStart != nil {
		t.onStart()
	}
}

// Stop forces Idle, emitting stop if typing was in progress. Used when the
// input is cleared, a message is sent, or the surface closes.
func (t *TypingIndicator) Stop() {
	t.mu.Lock()
	wasTyping := t.state == TypingActive
	t.state = TypingIdle
	t.disarmLocked()
	t.mu.Unlock()

	if wasTyping && t.onStop != nil {
		t.onStop()
	}
}

func (t *TypingIndicator) State() TypingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *TypingIndicator) armLocked() {
	t.disarmLocked()
	gen := t.gen
	t.cancel = t.afterFunc(t.timeout, func() { t.expire(gen) })
}

func (t *TypingIndicator) disarmLocked() {
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *TypingIndicator) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.state != TypingActive {
		t.mu.Unlock()
		return
	}
	t.state = TypingIdle
	t.cancel = nil
	t.mu.Unlock()

	if t.onStop != nil {
		t.onStop()
	}
}
