package notify

import (
	"testing"
	"time"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/events"
)

// fakeItem is the raw chat item shape used by the fake extractor.
type fakeItem struct {
	id        string
	userID    string
	name      string
	message   string
	timestamp any
	anonymous bool
	noAuthor  bool
}

type fakeExtractor struct{}

func (fakeExtractor) ExtractAuthor(raw any) (Author, bool) {
	it := raw.(*fakeItem)
	if it.noAuthor {
		return Author{}, false
	}
	return Author{ID: it.userID, Name: it.name}, true
}

func (fakeExtractor) ExtractMessage(raw any) string { return raw.(*fakeItem).message }
func (fakeExtractor) ExtractID(raw any) string      { return raw.(*fakeItem).id }
func (fakeExtractor) ExtractTimestamp(raw any) any  { return raw.(*fakeItem).timestamp }
func (fakeExtractor) IsAnonymous(a Author) bool     { return a.Name == "Anonymous" }

var itemTS = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func item(mut func(*fakeItem)) *fakeItem {
	it := &fakeItem{
		id:        "m1",
		userID:    "u1",
		name:      "Viewer",
		message:   "hello",
		timestamp: itemTS.UnixMilli(),
	}
	if mut != nil {
		mut(it)
	}
	return it
}

func TestProcessNotificationEmitsChat(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var onBus []events.Event
	b.Subscribe(bus.TopicEvent, func(payload any) {
		if ev, ok := payload.(events.Event); ok {
			onBus = append(onBus, ev)
		}
	})

	var handled []events.Event
	p := NewProcessor(events.PlatformTikTok, fakeExtractor{}, b,
		WithHandler(events.TypeChat, func(ev events.Event) { handled = append(handled, ev) }))

	p.ProcessNotification(item(nil), events.TypeChat, nil)

	if len(onBus) != 1 || len(handled) != 1 {
		t.Fatalf("bus=%d handler=%d emissions, want 1 each", len(onBus), len(handled))
	}
	ev := onBus[0]
	if ev.Type != events.TypeChat || ev.UserID != "u1" || ev.Username != "Viewer" || ev.Message != "hello" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.Timestamp.Equal(itemTS) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, itemTS)
	}
}

func TestSuppressionIsUniversal(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*fakeItem)
		typ  events.Type
	}{
		{"no author chat", func(it *fakeItem) { it.noAuthor = true }, events.TypeChat},
		{"no author gift", func(it *fakeItem) { it.noAuthor = true }, events.TypeGift},
		{"whitespace name", func(it *fakeItem) { it.name = "   " }, events.TypeChat},
		{"anonymous sentinel", func(it *fakeItem) { it.name = "Anonymous" }, events.TypeGift},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New()
			defer b.Close()
			emitted := 0
			b.Subscribe(bus.TopicEvent, func(payload any) { emitted++ })

			dispatched := 0
			p := NewProcessor(events.PlatformTikTok, fakeExtractor{}, b,
				WithErrorDispatcher(func(raw any, typ events.Type, reason string) { dispatched++ }))

			data := &EventData{Gift: &events.GiftPayload{GiftType: "Rose", GiftCount: 1, Amount: 1}}
			p.ProcessNotification(item(tt.mut), tt.typ, data)

			if emitted != 0 {
				t.Errorf("suppressed item still emitted")
			}
			// suppression is silent, never routed to the error dispatcher
			if dispatched != 0 {
				t.Errorf("suppressed item hit the error dispatcher")
			}
		})
	}
}

func TestRejectMalformedMonetization(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*fakeItem)
		typ  events.Type
		data *EventData
		want bool // error dispatcher invoked
	}{
		{
			"gift missing userId",
			func(it *fakeItem) { it.userID = "" },
			events.TypeGift,
			&EventData{Gift: &events.GiftPayload{GiftType: "Rose", GiftCount: 1, Amount: 1}},
			true,
		},
		{
			"gift bad timestamp",
			func(it *fakeItem) { it.timestamp = "not a time" },
			events.TypeGift,
			&EventData{Gift: &events.GiftPayload{GiftType: "Rose", GiftCount: 1, Amount: 1}},
			true,
		},
		{
			"gift zero count",
			nil,
			events.TypeGift,
			&EventData{Gift: &events.GiftPayload{GiftType: "Rose", GiftCount: 0, Amount: 1}},
			true,
		},
		{
			"chat missing userId",
			func(it *fakeItem) { it.userID = "" },
			events.TypeChat,
			nil,
			false, // rejected, but chat is not monetization
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New()
			defer b.Close()
			emitted := 0
			b.Subscribe(bus.TopicEvent, func(payload any) { emitted++ })

			var gotType events.Type
			dispatched := 0
			p := NewProcessor(events.PlatformTikTok, fakeExtractor{}, b,
				WithErrorDispatcher(func(raw any, typ events.Type, reason string) {
					dispatched++
					gotType = typ
				}))

			p.ProcessNotification(item(tt.mut), tt.typ, tt.data)

			if emitted != 0 {
				t.Errorf("malformed item still emitted")
			}
			if (dispatched == 1) != tt.want {
				t.Errorf("dispatched = %d, want invoked=%v", dispatched, tt.want)
			}
			if tt.want && gotType != tt.typ {
				t.Errorf("dispatcher saw type %q, want %q", gotType, tt.typ)
			}
		})
	}
}

func TestGiftDataAttached(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var got events.Event
	b.Subscribe(bus.TopicEvent, func(payload any) { got = payload.(events.Event) })

	p := NewProcessor(events.PlatformTikTok, fakeExtractor{}, b)
	p.ProcessNotification(item(nil), events.TypeGift,
		&EventData{Gift: &events.GiftPayload{GiftType: "Rose", GiftCount: 3, Amount: 3, Currency: "coins"}})

	if got.Gift == nil {
		t.Fatal("gift payload missing")
	}
	if got.Gift.GiftType != "Rose" || got.Gift.GiftCount != 3 || got.Gift.Amount != 3 {
		t.Errorf("gift payload = %+v", got.Gift)
	}
}

func TestFirstMessageGreeting(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var types []events.Type
	b.Subscribe(bus.TopicEvent, func(payload any) {
		types = append(types, payload.(events.Event).Type)
	})

	enabled := true
	p := NewProcessor(events.PlatformTwitch, fakeExtractor{}, b,
		WithGreetings(NewUserTracker(), func() bool { return enabled }))

	p.ProcessNotification(item(nil), events.TypeChat, nil)
	p.ProcessNotification(item(func(it *fakeItem) { it.id = "m2"; it.message = "again" }), events.TypeChat, nil)

	want := []events.Type{events.TypeChat, events.TypeGreeting, events.TypeChat}
	if len(types) != len(want) {
		t.Fatalf("emissions = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("emissions = %v, want %v", types, want)
		}
	}

	// toggle off: a new user chats without a greeting
	enabled = false
	p.ProcessNotification(item(func(it *fakeItem) { it.userID = "u2"; it.name = "Other" }), events.TypeChat, nil)
	if types[len(types)-1] != events.TypeChat || len(types) != 4 {
		t.Fatalf("emissions after disable = %v", types)
	}
}

func TestUserTracker(t *testing.T) {
	tr := NewUserTracker()
	if !tr.IsFirstMessage("u1") {
		t.Fatal("first message not detected")
	}
	if tr.IsFirstMessage("u1") {
		t.Fatal("second message reported as first")
	}
	if tr.IsFirstMessage("") {
		t.Fatal("empty user id counted")
	}
	if tr.Count() != 1 {
		t.Fatalf("Count = %d, want 1", tr.Count())
	}
}
