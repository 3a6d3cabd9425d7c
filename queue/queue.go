// Package queue drives the renderer. It is the only component that issues
// display RPCs, strictly one item at a time: render, hold, clear,
// transition gap, next. Renderer failures are logged and skipped — a
// missing notification beats a stalled stream.
package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/events"
	"github.com/onnwee/streamfx/telemetry"
)

// Renderer is the subset of the renderer client the queue drives.
type Renderer interface {
	SetInputSettings(ctx context.Context, inputName string, settings map[string]any, overlay bool) error
	GetSceneItemId(ctx context.Context, sceneName, sourceName string) (int, error)
	SetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int, enabled bool) error
}

// GoalTracker consumes monetary totals as items leave the queue.
type GoalTracker interface {
	ProcessDonationGoal(platform events.Platform, amount float64)
}

// VFXCommand is the payload emitted on vfx:command.
type VFXCommand struct {
	Event events.Event
}

// TTSRequest is the payload emitted on tts:speech-requested.
type TTSRequest struct {
	Text  string
	Event events.Event
}

// DisplayQueue is the priority queue plus its single worker.
type DisplayQueue struct {
	mu      sync.Mutex
	items   itemHeap
	nextSeq uint64
	notify  chan struct{}

	obsCfg   config.OBSConfig
	timing   config.TimingConfig
	renderer Renderer
	goals    GoalTracker
	bus      *bus.Bus
	ttsOn    func() bool
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool
	onChat   func() // fires once per rendered chat message

	wg sync.WaitGroup
}

// Option configures a DisplayQueue.
type Option func(*DisplayQueue)

// WithClock injects the clock and a synthetic sleep used by the suite.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(q *DisplayQueue) {
		q.now = now
		q.sleep = sleep
	}
}

// WithChatRenderedHook registers the graceful-exit counter hook.
func WithChatRenderedHook(fn func()) Option {
	return func(q *DisplayQueue) { q.onChat = fn }
}

// WithTTSToggle gates tts:speech-requested emission.
func WithTTSToggle(enabled func() bool) Option {
	return func(q *DisplayQueue) { q.ttsOn = enabled }
}

// New builds the queue; call Run to start the worker.
func New(obsCfg config.OBSConfig, timing config.TimingConfig, r Renderer, goals GoalTracker, b *bus.Bus, opts ...Option) *DisplayQueue {
	q := &DisplayQueue{
		notify:   make(chan struct{}, 1),
		obsCfg:   obsCfg,
		timing:   timing,
		renderer: r,
		goals:    goals,
		bus:      b,
		ttsOn:    func() bool { return false },
		now:      time.Now,
		sleep:    realSleep,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func realSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Enqueue adds an event with its default priority.
func (q *DisplayQueue) Enqueue(ev events.Event) {
	q.EnqueueWithPriority(ev, PriorityFor(ev.Type))
}

// EnqueueWithPriority adds an event at an explicit priority.
func (q *DisplayQueue) EnqueueWithPriority(ev events.Event, priority int) {
	q.mu.Lock()
	q.nextSeq++
	heap.Push(&q.items, &Item{
		Event:      ev,
		Priority:   priority,
		EnqueuedAt: q.now(),
		seq:        q.nextSeq,
	})
	depth := q.items.Len()
	q.mu.Unlock()
	telemetry.SetQueueDepth(depth)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of pending items.
func (q *DisplayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Run processes items until ctx is canceled. Shutdown interrupts between
// items, never inside a render cycle.
func (q *DisplayQueue) Run(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			it := q.pop()
			if it == nil {
				select {
				case <-q.notify:
					continue
				case <-ctx.Done():
					return
				}
			}
			q.processItem(ctx, it)
			if ctx.Err() != nil {
				// flush the pending clear so the overlay isn't left showing
				q.clearPhase(context.Background(), it)
				return
			}
			// transition gap before the next item
			if !q.sleep(ctx, q.timing.TransitionDelay) {
				return
			}
		}
	}()
}

// Wait blocks until the worker has exited.
func (q *DisplayQueue) Wait() { q.wg.Wait() }

func (q *DisplayQueue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil
	}
	it := heap.Pop(&q.items).(*Item)
	telemetry.SetQueueDepth(q.items.Len())
	return it
}

// ProcessItemForTest runs one full item cycle synchronously; the suite
// uses it with a synthetic clock.
func (q *DisplayQueue) ProcessItemForTest(ctx context.Context, it *Item) {
	q.processItem(ctx, it)
}

// PopForTest exposes dequeue ordering to the suite.
func (q *DisplayQueue) PopForTest() *Item { return q.pop() }

func (q *DisplayQueue) processItem(ctx context.Context, it *Item) {
	start := q.now()
	ev := &it.Event

	// goal update, exactly once per item, with the monetary total
	if ev.Monetary() && !it.GoalProcessed && ev.Amount() > 0 && q.goals != nil {
		q.goals.ProcessDonationGoal(ev.Platform, ev.Amount())
		it.GoalProcessed = true
	}

	q.renderPhase(ctx, it)

	// hold: type-specific duration
	hold := q.timing.NotificationDuration
	if ev.Type == events.TypeChat {
		hold = q.timing.ChatMessageDuration
	}
	q.sleep(ctx, hold)

	// clear after the configured delay
	q.sleep(ctx, q.timing.NotificationClearDelay)
	q.clearPhase(ctx, it)

	telemetry.ObserveRenderDuration(q.now().Sub(start))
	telemetry.IncItemsRendered()

	if ev.Type == events.TypeChat && q.onChat != nil {
		q.onChat()
	}
}

// renderPhase shows the item: logos, text, group visibility, and the
// coupled VFX/TTS emissions. Every RPC failure is logged and skipped.
func (q *DisplayQueue) renderPhase(ctx context.Context, it *Item) {
	ev := &it.Event

	q.hideAllPlatformLogos(ctx)
	if logo, ok := q.obsCfg.PlatformLogoSources[string(ev.Platform)]; ok {
		q.setSceneItemEnabled(ctx, logo, true)
	}

	text := FormatDisplayText(ev)
	textSource := q.obsCfg.NotificationSource
	group := q.obsCfg.NotificationGroup
	if ev.Type == events.TypeChat {
		textSource = q.obsCfg.ChatSource
		group = q.obsCfg.ChatGroup
	}
	if err := q.renderer.SetInputSettings(ctx, textSource, map[string]any{"text": text}, true); err != nil {
		slog.Warn("renderer text update failed", slog.Any("err", err), slog.String("source", textSource))
	}
	q.setSceneItemEnabled(ctx, group, true)

	// VFX/TTS are fired with the render phase; the queue never waits for
	// their completion.
	if q.bus != nil && (ev.Type == events.TypeGift || ev.Type == events.TypeEnvelope || ev.Type == events.TypeSub || ev.Type == events.TypeGiftSub) {
		q.bus.Emit(bus.TopicVFXCommand, VFXCommand{Event: *ev})
		if q.ttsOn() {
			q.bus.Emit(bus.TopicTTSRequested, TTSRequest{Text: text, Event: *ev})
		}
	}
}

// clearPhase blanks the text source and hides the logo.
func (q *DisplayQueue) clearPhase(ctx context.Context, it *Item) {
	ev := &it.Event
	textSource := q.obsCfg.NotificationSource
	if ev.Type == events.TypeChat {
		textSource = q.obsCfg.ChatSource
	}
	if err := q.renderer.SetInputSettings(ctx, textSource, map[string]any{"text": ""}, true); err != nil {
		slog.Warn("renderer text clear failed", slog.Any("err", err), slog.String("source", textSource))
	}
	if logo, ok := q.obsCfg.PlatformLogoSources[string(ev.Platform)]; ok {
		q.setSceneItemEnabled(ctx, logo, false)
	}
}

func (q *DisplayQueue) hideAllPlatformLogos(ctx context.Context) {
	for _, source := range q.obsCfg.PlatformLogoSources {
		q.setSceneItemEnabled(ctx, source, false)
	}
}

func (q *DisplayQueue) setSceneItemEnabled(ctx context.Context, source string, enabled bool) {
	id, err := q.renderer.GetSceneItemId(ctx, q.obsCfg.SceneName, source)
	if err != nil {
		slog.Debug("scene item lookup failed", slog.Any("err", err), slog.String("source", source))
		return
	}
	if err := q.renderer.SetSceneItemEnabled(ctx, q.obsCfg.SceneName, id, enabled); err != nil {
		slog.Warn("scene item toggle failed", slog.Any("err", err), slog.String("source", source))
	}
}
