package platforms

import (
	"testing"
	"time"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/events"
	"github.com/onnwee/streamfx/testutil"
)

var lcStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestShouldSkipForConnection(t *testing.T) {
	filterOn := true
	clock := testutil.NewClock(lcStart)
	l := NewLifecycle(nil, func() bool { return filterOn }, WithLifecycleClock(clock.Now))

	// no connect recorded yet: keep everything
	if l.ShouldSkipForConnection(events.PlatformTwitch, lcStart.UnixMilli()) {
		t.Fatal("skipped a message before any connect was recorded")
	}

	l.RecordConnect(events.PlatformTwitch)

	tests := []struct {
		name string
		ts   any
		want bool
	}{
		{"one second before connect", lcStart.Add(-time.Second).UnixMilli(), true},
		{"exactly at connect", lcStart.UnixMilli(), false},
		{"after connect", lcStart.Add(time.Second).UnixMilli(), false},
		{"unparseable timestamp", "garbage", false},
		{"nil timestamp", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.ShouldSkipForConnection(events.PlatformTwitch, tt.ts); got != tt.want {
				t.Errorf("ShouldSkipForConnection = %v, want %v", got, tt.want)
			}
		})
	}

	// other platforms are unaffected by twitch's connect time
	if l.ShouldSkipForConnection(events.PlatformTikTok, lcStart.Add(-time.Hour).UnixMilli()) {
		t.Error("tiktok message skipped by twitch's connect time")
	}

	// toggle off: everything is kept
	filterOn = false
	if l.ShouldSkipForConnection(events.PlatformTwitch, lcStart.Add(-time.Hour).UnixMilli()) {
		t.Error("filter disabled but message still skipped")
	}
}

func TestReconnectMovesTheCutoff(t *testing.T) {
	clock := testutil.NewClock(lcStart)
	l := NewLifecycle(nil, func() bool { return true }, WithLifecycleClock(clock.Now))

	l.RecordConnect(events.PlatformTikTok)
	clock.Advance(time.Minute)
	l.RecordConnect(events.PlatformTikTok)

	// a message from before the reconnect is now stale
	if !l.ShouldSkipForConnection(events.PlatformTikTok, lcStart.Add(30*time.Second).UnixMilli()) {
		t.Fatal("message older than the latest connect was kept")
	}
	if got, ok := l.ConnectionTime(events.PlatformTikTok); !ok || !got.Equal(lcStart.Add(time.Minute)) {
		t.Fatalf("ConnectionTime = %v ok=%v", got, ok)
	}
}

func TestReinitHookFiresOnNewStreamOnly(t *testing.T) {
	b := bus.New()
	defer b.Close()
	l := NewLifecycle(b, func() bool { return true })

	var fired []StreamDetected
	l.RegisterReinitHook(events.PlatformYouTube, func(sd StreamDetected) { fired = append(fired, sd) })

	b.Emit(bus.TopicStreamDetected, StreamDetected{Platform: events.PlatformYouTube, StreamID: "s1", ChatID: "chat1"})
	b.Emit(bus.TopicStreamDetected, StreamDetected{Platform: events.PlatformYouTube, StreamID: "s1", ChatID: "chat1"})

	if len(fired) != 1 {
		t.Fatalf("hook fired %d times for the same stream, want 1", len(fired))
	}
	if fired[0].ChatID != "chat1" {
		t.Errorf("hook payload = %+v", fired[0])
	}

	b.Emit(bus.TopicStreamDetected, StreamDetected{Platform: events.PlatformYouTube, StreamID: "s2", ChatID: "chat2"})
	if len(fired) != 2 || fired[1].StreamID != "s2" {
		t.Fatalf("hook did not fire for the new stream: %+v", fired)
	}

	// empty stream ids never fire
	b.Emit(bus.TopicStreamDetected, StreamDetected{Platform: events.PlatformYouTube, StreamID: ""})
	if len(fired) != 2 {
		t.Fatal("hook fired for an empty stream id")
	}

	// other platforms have their own hook slot
	b.Emit(bus.TopicStreamDetected, StreamDetected{Platform: events.PlatformTikTok, StreamID: "t1"})
	if len(fired) != 2 {
		t.Fatal("youtube hook fired for a tiktok stream")
	}
}
