package app

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/events"
)

// testConfig keeps every adapter and the HTTP server off so New wires
// only the in-process services.
func testConfig() *config.Config {
	return &config.Config{
		Commands: config.CommandsConfig{Prefixes: []string{"!"}},
	}
}

func chatEvent(t *testing.T, id, user, msg string) events.Event {
	t.Helper()
	ev, err := events.New(events.PlatformTwitch, events.TypeChat, id, "u-"+user, user, msg, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestGracefulExitCompletesCooperatively(t *testing.T) {
	cfg := testConfig()
	cfg.General.GracefulExit = config.GracefulExit{Enabled: true, MessageCount: 1}

	var forced atomic.Int32
	a, err := New(cfg,
		WithExiter(func(code int) { forced.Add(1) }),
		WithChatEcho(io.Discard),
	)
	if err != nil {
		t.Fatal(err)
	}

	ready := make(chan struct{}, 1)
	a.bus.Subscribe(bus.TopicSystemReady, func(payload any) { ready <- struct{}{} })

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("system never became ready")
	}

	// one rendered chat message hits the target; Run must return via the
	// cooperative teardown, not the forced-exit timer
	a.bus.Emit(bus.TopicEvent, chatEvent(t, "c1", "Viewer", "hello"))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("graceful exit never completed")
	}
	if forced.Load() != 0 {
		t.Fatal("forced-exit timer fired during a clean graceful exit")
	}
}

func TestChatEchoRespectsNoMessages(t *testing.T) {
	var out bytes.Buffer
	a, err := New(testConfig(), WithExiter(func(int) {}), WithChatEcho(&out))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Shutdown("test done") })

	a.routeEvent(chatEvent(t, "c1", "Viewer", "hello chat"))
	if !strings.Contains(out.String(), "Viewer: hello chat") {
		t.Errorf("echo = %q, want the chat line", out.String())
	}
	if a.queue.Len() != 1 {
		t.Fatalf("queue depth = %d, chat must still display", a.queue.Len())
	}

	quiet, err := New(testConfig(), WithExiter(func(int) {}), WithChatEcho(&out), WithoutMessages())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { quiet.Shutdown("test done") })

	out.Reset()
	quiet.routeEvent(chatEvent(t, "c2", "Viewer", "quiet"))
	if out.Len() != 0 {
		t.Errorf("echo with messages suppressed = %q, want none", out.String())
	}
	if quiet.queue.Len() != 1 {
		t.Fatal("suppressing the echo must not drop chat from the display queue")
	}
}
