// Package handlers implements the busy/idle/error handler timers of
// spec.md §4.5. Grounded in the per-run state-map-with-mutex idiom of
// _examples/goadesign-goa-ai/runtime/agent/reminder/engine.go, adapted
// from a turn-counted emission cap to the wall-clock delay/repeat timers
// spec.md's handlers actually use.
package handlers

import (
	"context"
	"sync"
	"time"
)

// BusyTrigger is the input payload delivered to an on_busy sub-run.
type BusyTrigger struct {
	DeckPath   string
	ActionName string
	Reason     string // "timeout"
	ElapsedMS  int64
	ChildInput any
}

// IdleTrigger is the input payload delivered to an on_idle sub-run.
type IdleTrigger struct {
	Reason    string // "idle_timeout"
	ElapsedMS int64
}

// ErrorTrigger is the input payload delivered to an on_error sub-run.
type ErrorTrigger struct {
	DeckPath     string
	ActionName   string
	ErrorMessage string
	ChildInput   any
}

// FireFunc invokes the handler deck and returns its string-or-message
// output (for busy/idle) or its replacement envelope (for error).
type FireFunc func(ctx context.Context, payload any) (any, error)

// BusyTimer arms a repeating timer at delay, then every repeat (if
// non-zero) until Stop is called, invoking fire on each tick. Busy-handler
// failures are swallowed (spec.md §4.5: "best-effort"), matching the
// reminder engine's own tolerance for partial state.
type BusyTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	deckPath   string
	actionName string
	childInput any
	started    time.Time
	repeat     time.Duration
	fire       FireFunc
}

// NewBusyTimer arms a busy timer. fire is invoked on a separate goroutine
// each time the timer elapses; it must not block indefinitely since it
// competes with the repeat schedule.
func NewBusyTimer(delay, repeat time.Duration, deckPath, actionName string, childInput any, fire FireFunc) *BusyTimer {
	bt := &BusyTimer{
		deckPath:   deckPath,
		actionName: actionName,
		childInput: childInput,
		started:    time.Now(),
		repeat:     repeat,
		fire:       fire,
	}
	bt.timer = time.AfterFunc(delay, bt.tick)
	return bt
}

func (bt *BusyTimer) tick() {
	bt.mu.Lock()
	if bt.stopped {
		bt.mu.Unlock()
		return
	}
	elapsed := time.Since(bt.started)
	repeat := bt.repeat
	bt.mu.Unlock()

	payload := BusyTrigger{
		DeckPath:   bt.deckPath,
		ActionName: bt.actionName,
		Reason:     "timeout",
		ElapsedMS:  elapsed.Milliseconds(),
		ChildInput: bt.childInput,
	}
	// Best-effort: failures are swallowed per spec.md §4.5.
	_, _ = bt.fire(context.Background(), payload)

	if repeat > 0 {
		bt.mu.Lock()
		if !bt.stopped {
			bt.timer = time.AfterFunc(repeat, bt.tick)
		}
		bt.mu.Unlock()
	}
}

// Stop disarms the timer. Safe to call more than once and safe to call
// concurrently with an in-flight tick.
func (bt *BusyTimer) Stop() {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.stopped = true
	if bt.timer != nil {
		bt.timer.Stop()
	}
}

// IdleTimer tracks time since last activity, firing once (and repeating if
// repeat is set) when delay elapses without a Touch call. Pause/Resume
// bracket in-flight action-deck calls, per spec.md §4.5: "Paused for the
// duration of any in-flight action-deck call; resumed on return."
type IdleTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	paused  bool

	delay   time.Duration
	repeat  time.Duration
	lastRun time.Time
	fire    FireFunc
}

// NewIdleTimer arms an idle timer.
func NewIdleTimer(delay, repeat time.Duration, fire FireFunc) *IdleTimer {
	it := &IdleTimer{delay: delay, repeat: repeat, lastRun: time.Now(), fire: fire}
	it.timer = time.AfterFunc(delay, it.tick)
	return it
}

func (it *IdleTimer) tick() {
	it.mu.Lock()
	if it.stopped || it.paused {
		it.mu.Unlock()
		return
	}
	elapsed := time.Since(it.lastRun)
	repeat := it.repeat
	it.mu.Unlock()

	_, _ = it.fire(context.Background(), IdleTrigger{Reason: "idle_timeout", ElapsedMS: elapsed.Milliseconds()})

	it.mu.Lock()
	if !it.stopped && !it.paused {
		if repeat > 0 {
			it.timer = time.AfterFunc(repeat, it.tick)
		}
	}
	it.mu.Unlock()
}

// Touch resets the idle clock, called on any stream chunk, tool result, or
// other activity.
func (it *IdleTimer) Touch() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.lastRun = time.Now()
	if it.timer != nil {
		it.timer.Stop()
	}
	if !it.stopped && !it.paused {
		it.timer = time.AfterFunc(it.delay, it.tick)
	}
}

// Pause suspends the idle timer for the duration of an in-flight
// action-deck call.
func (it *IdleTimer) Pause() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.paused = true
	if it.timer != nil {
		it.timer.Stop()
	}
}

// Resume re-arms the idle timer after an action-deck call returns.
func (it *IdleTimer) Resume() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.paused = false
	it.lastRun = time.Now()
	it.timer = time.AfterFunc(it.delay, it.tick)
}

// Stop disarms the idle timer permanently.
func (it *IdleTimer) Stop() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.stopped = true
	if it.timer != nil {
		it.timer.Stop()
	}
}

// FallbackCode is the code attached to the synthesized envelope when an
// on_error handler itself fails (spec.md §4.5, §7).
const FallbackCode = "HANDLER_FALLBACK"

// RunErrorHandler invokes fire with an ErrorTrigger and returns its
// replacement envelope. If fire itself errors, RunErrorHandler returns a
// synthesized fallback envelope instead of propagating the error, so the
// model always sees a tool result.
func RunErrorHandler(ctx context.Context, trigger ErrorTrigger, fire FireFunc) any {
	envelope, err := fire(ctx, trigger)
	if err != nil {
		return map[string]any{
			"status":  500,
			"code":    FallbackCode,
			"message": "on_error handler failed: " + err.Error(),
		}
	}
	return envelope
}
