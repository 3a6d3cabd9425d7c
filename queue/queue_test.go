package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/events"
	"github.com/onnwee/streamfx/testutil"
)

var queueTS = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type rendererCall struct {
	op       string
	source   string
	settings map[string]any
	enabled  bool
}

// fakeRenderer records RPCs; sources listed in fail error every call.
type fakeRenderer struct {
	mu    sync.Mutex
	calls []rendererCall
	fail  map[string]bool
}

func (r *fakeRenderer) SetInputSettings(ctx context.Context, inputName string, settings map[string]any, overlay bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[inputName] {
		return errFakeRenderer
	}
	r.calls = append(r.calls, rendererCall{op: "SetInputSettings", source: inputName, settings: settings})
	return nil
}

func (r *fakeRenderer) GetSceneItemId(ctx context.Context, sceneName, sourceName string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[sourceName] {
		return 0, errFakeRenderer
	}
	return 7, nil
}

func (r *fakeRenderer) SetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, rendererCall{op: "SetSceneItemEnabled", enabled: enabled})
	return nil
}

func (r *fakeRenderer) texts(source string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.op == "SetInputSettings" && c.source == source {
			if s, ok := c.settings["text"].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

var errFakeRenderer = errors.New("renderer unavailable")

type fakeGoals struct {
	mu    sync.Mutex
	calls []struct {
		platform events.Platform
		amount   float64
	}
}

func (g *fakeGoals) ProcessDonationGoal(platform events.Platform, amount float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, struct {
		platform events.Platform
		amount   float64
	}{platform, amount})
}

func testObsCfg() config.OBSConfig {
	return config.OBSConfig{
		SceneName:          "Main",
		NotificationGroup:  "NotifGroup",
		ChatGroup:          "ChatGroup",
		NotificationSource: "NotifText",
		ChatSource:         "ChatText",
		PlatformLogoSources: map[string]string{
			"tiktok": "TikTokLogo",
			"twitch": "TwitchLogo",
		},
	}
}

func newTestQueue(t *testing.T, r Renderer, goals GoalTracker, b *bus.Bus, opts ...Option) *DisplayQueue {
	t.Helper()
	clock := testutil.NewClock(queueTS)
	opts = append([]Option{WithClock(clock.Now, func(ctx context.Context, d time.Duration) bool {
		clock.Advance(d)
		return true
	})}, opts...)
	return New(testObsCfg(), config.TimingConfig{
		NotificationDuration: 8 * time.Second,
		ChatMessageDuration:  5 * time.Second,
	}, r, goals, b, opts...)
}

func chatEvent(t *testing.T, id, user, text string) events.Event {
	t.Helper()
	ev, err := events.New(events.PlatformTwitch, events.TypeChat, id, "u-"+user, user, text, queueTS)
	if err != nil {
		t.Fatalf("building chat: %v", err)
	}
	return ev
}

func giftEvent(t *testing.T, platform events.Platform, id string, count int, amount float64) events.Event {
	t.Helper()
	ev, err := events.NewGift(platform, id, "u1", "Viewer", queueTS,
		events.GiftPayload{GiftType: "Rose", GiftCount: count, Amount: amount, Currency: "coins"}, false)
	if err != nil {
		t.Fatalf("building gift: %v", err)
	}
	return ev
}

func TestDequeueOrder(t *testing.T) {
	q := newTestQueue(t, &fakeRenderer{}, nil, nil)

	chat1 := chatEvent(t, "c1", "a", "first chat")
	chat2 := chatEvent(t, "c2", "b", "second chat")
	gift := giftEvent(t, events.PlatformTikTok, "g1", 1, 100)
	raid, err := events.NewRaid(events.PlatformTwitch, "r1", "u9", "Raider", queueTS, 50)
	if err != nil {
		t.Fatal(err)
	}

	q.Enqueue(chat1)
	q.Enqueue(gift)
	q.Enqueue(chat2)
	q.Enqueue(raid)

	want := []string{"r1", "g1", "c1", "c2"}
	for i, id := range want {
		it := q.PopForTest()
		if it == nil {
			t.Fatalf("queue empty at position %d", i)
		}
		if it.Event.ID != id {
			t.Fatalf("position %d = %s, want %s", i, it.Event.ID, id)
		}
	}
	if q.PopForTest() != nil {
		t.Fatal("queue should be empty")
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	q := newTestQueue(t, &fakeRenderer{}, nil, nil)
	for _, id := range []string{"g1", "g2", "g3"} {
		q.Enqueue(giftEvent(t, events.PlatformTikTok, id, 1, 100))
	}
	for _, id := range []string{"g1", "g2", "g3"} {
		if it := q.PopForTest(); it.Event.ID != id {
			t.Fatalf("got %s, want %s", it.Event.ID, id)
		}
	}
}

func TestGoalUpdateIsIdempotentPerItem(t *testing.T) {
	goals := &fakeGoals{}
	q := newTestQueue(t, &fakeRenderer{}, goals, nil)

	// three roses worth 3 coins total
	q.Enqueue(giftEvent(t, events.PlatformTikTok, "g1", 3, 3))
	it := q.PopForTest()

	q.ProcessItemForTest(context.Background(), it)
	q.ProcessItemForTest(context.Background(), it)

	if len(goals.calls) != 1 {
		t.Fatalf("goal updated %d times for one item, want exactly once", len(goals.calls))
	}
	if goals.calls[0].platform != events.PlatformTikTok || goals.calls[0].amount != 3 {
		t.Errorf("goal call = %+v, want tiktok/3", goals.calls[0])
	}
	if !it.GoalProcessed {
		t.Error("GoalProcessed not set")
	}
}

func TestBitsUpdateGoalOnce(t *testing.T) {
	goals := &fakeGoals{}
	q := newTestQueue(t, &fakeRenderer{}, goals, nil)

	q.Enqueue(giftEvent(t, events.PlatformTwitch, "b1", 1, 200))
	q.ProcessItemForTest(context.Background(), q.PopForTest())

	if len(goals.calls) != 1 || goals.calls[0].platform != events.PlatformTwitch || goals.calls[0].amount != 200 {
		t.Fatalf("goal calls = %+v, want one twitch/200 update", goals.calls)
	}
}

func TestChatDoesNotTouchGoals(t *testing.T) {
	goals := &fakeGoals{}
	q := newTestQueue(t, &fakeRenderer{}, goals, nil)

	q.Enqueue(chatEvent(t, "c1", "a", "hi"))
	q.ProcessItemForTest(context.Background(), q.PopForTest())

	if len(goals.calls) != 0 {
		t.Fatalf("chat updated goals: %+v", goals.calls)
	}
}

func TestRenderAndClearText(t *testing.T) {
	r := &fakeRenderer{}
	q := newTestQueue(t, r, nil, nil)

	q.Enqueue(chatEvent(t, "c1", "Viewer", "hello world"))
	q.ProcessItemForTest(context.Background(), q.PopForTest())

	texts := r.texts("ChatText")
	if len(texts) != 2 {
		t.Fatalf("chat source written %d times, want render then clear", len(texts))
	}
	if texts[0] != "Viewer: hello world" {
		t.Errorf("rendered text = %q", texts[0])
	}
	if texts[1] != "" {
		t.Errorf("clear wrote %q, want empty", texts[1])
	}
}

func TestRendererFailureIsSkipped(t *testing.T) {
	r := &fakeRenderer{fail: map[string]bool{"NotifText": true, "TwitchLogo": true}}
	q := newTestQueue(t, r, nil, nil)

	q.Enqueue(giftEvent(t, events.PlatformTwitch, "g1", 1, 100))
	// must not panic or stall
	q.ProcessItemForTest(context.Background(), q.PopForTest())
}

func TestVFXAndTTSEmission(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var vfx []VFXCommand
	var tts []TTSRequest
	b.Subscribe(bus.TopicVFXCommand, func(payload any) { vfx = append(vfx, payload.(VFXCommand)) })
	b.Subscribe(bus.TopicTTSRequested, func(payload any) { tts = append(tts, payload.(TTSRequest)) })

	ttsOn := true
	q := newTestQueue(t, &fakeRenderer{}, nil, b, WithTTSToggle(func() bool { return ttsOn }))

	q.Enqueue(giftEvent(t, events.PlatformTikTok, "g1", 2, 2))
	q.ProcessItemForTest(context.Background(), q.PopForTest())

	if len(vfx) != 1 || vfx[0].Event.ID != "g1" {
		t.Fatalf("vfx emissions = %+v, want one for g1", vfx)
	}
	if len(tts) != 1 || !strings.Contains(tts[0].Text, "2x Rose") {
		t.Fatalf("tts emissions = %+v, want one with the display text", tts)
	}

	// chat never fires effects
	q.Enqueue(chatEvent(t, "c1", "a", "hi"))
	q.ProcessItemForTest(context.Background(), q.PopForTest())
	if len(vfx) != 1 || len(tts) != 1 {
		t.Fatal("chat item fired effects")
	}

	// tts toggle off
	ttsOn = false
	q.Enqueue(giftEvent(t, events.PlatformTikTok, "g2", 1, 100))
	q.ProcessItemForTest(context.Background(), q.PopForTest())
	if len(tts) != 1 {
		t.Fatal("tts fired while disabled")
	}
	if len(vfx) != 2 {
		t.Fatal("vfx should fire independently of the tts toggle")
	}
}

func TestChatRenderedHook(t *testing.T) {
	rendered := 0
	q := newTestQueue(t, &fakeRenderer{}, nil, nil, WithChatRenderedHook(func() { rendered++ }))

	q.Enqueue(chatEvent(t, "c1", "a", "one"))
	q.Enqueue(giftEvent(t, events.PlatformTikTok, "g1", 1, 100))
	q.Enqueue(chatEvent(t, "c2", "b", "two"))

	for it := q.PopForTest(); it != nil; it = q.PopForTest() {
		q.ProcessItemForTest(context.Background(), it)
	}

	if rendered != 2 {
		t.Fatalf("chat hook fired %d times, want 2", rendered)
	}
}

func TestPriorityForMapping(t *testing.T) {
	tests := []struct {
		typ  events.Type
		want int
	}{
		{events.TypeRaid, PriorityRaid},
		{events.TypeEnvelope, PriorityEnvelope},
		{events.TypeGift, PriorityGift},
		{events.TypeGiftSub, PriorityGift},
		{events.TypeSub, PrioritySub},
		{events.TypeRedemption, PriorityRedemption},
		{events.TypeFollow, PriorityFollow},
		{events.TypeGreeting, PriorityGreeting},
		{events.TypeFarewell, PriorityGreeting},
		{events.TypeChat, PriorityChat},
	}
	for _, tt := range tests {
		if got := PriorityFor(tt.typ); got != tt.want {
			t.Errorf("PriorityFor(%s) = %d, want %d", tt.typ, got, tt.want)
		}
	}
}

func TestRunDrainsAndStops(t *testing.T) {
	r := &fakeRenderer{}
	q := New(testObsCfg(), config.TimingConfig{}, r, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	q.Run(ctx)

	q.Enqueue(chatEvent(t, "c1", "a", "hi"))

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if q.Len() != 0 {
		t.Fatal("worker did not drain the queue")
	}

	cancel()
	done := make(chan struct{})
	go func() { q.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
