package events

import (
	"strings"
	"testing"
	"time"
)

var testTS = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewChatEvent(t *testing.T) {
	ev, err := New(PlatformTwitch, TypeChat, "m1", "u1", "Alice", "hello", testTS)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ev.Platform != PlatformTwitch || ev.Type != TypeChat || ev.Message != "hello" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestNewRejectsBadCommonFields(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
		userID   string
		username string
	}{
		{"unknown platform", Platform("myspace"), "u1", "Alice"},
		{"missing userId", PlatformTwitch, "", "Alice"},
		{"missing username", PlatformTwitch, "u1", ""},
		{"whitespace username", PlatformTwitch, "u1", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.platform, TypeChat, "m1", tt.userID, tt.username, "hi", testTS); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewGiftInvariants(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		payload GiftPayload
		isError bool
		wantErr bool
	}{
		{"valid", "g1", GiftPayload{GiftType: "Rose", GiftCount: 3, Amount: 3}, false, false},
		{"zero count", "g1", GiftPayload{GiftType: "Rose", GiftCount: 0, Amount: 3}, false, true},
		{"zero amount", "g1", GiftPayload{GiftType: "Rose", GiftCount: 1, Amount: 0}, false, true},
		{"negative amount", "g1", GiftPayload{GiftType: "Rose", GiftCount: 1, Amount: -1}, false, true},
		{"empty id", "", GiftPayload{GiftType: "Rose", GiftCount: 1, Amount: 1}, false, true},
		{"error events relax numeric checks", "g1", GiftPayload{GiftType: "Rose", GiftCount: 0, Amount: 0}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGift(PlatformTikTok, tt.id, "u1", "Alice", testTS, tt.payload, tt.isError)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestMonetaryAndAmount(t *testing.T) {
	gift, _ := NewGift(PlatformTikTok, "g1", "u1", "Alice", testTS, GiftPayload{GiftType: "Rose", GiftCount: 3, Amount: 3}, false)
	if !gift.Monetary() || gift.Amount() != 3 {
		t.Errorf("gift: Monetary=%v Amount=%v", gift.Monetary(), gift.Amount())
	}

	chat, _ := New(PlatformTwitch, TypeChat, "m1", "u1", "Alice", "hi", testTS)
	if chat.Monetary() || chat.Amount() != 0 {
		t.Errorf("chat: Monetary=%v Amount=%v", chat.Monetary(), chat.Amount())
	}

	env, _ := NewEnvelope(PlatformTikTok, "e1", "u1", "Alice", testTS,
		EnvelopePayload{GiftPayload: GiftPayload{GiftType: "Treasure Chest", GiftCount: 1, Amount: 500}}, false)
	if !env.Monetary() || env.Amount() != 500 {
		t.Errorf("envelope: Monetary=%v Amount=%v", env.Monetary(), env.Amount())
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    time.Time
		wantErr bool
	}{
		{"time.Time", testTS, testTS, false},
		{"rfc3339 string", "2025-06-01T12:00:00Z", testTS, false},
		{"unix millis int64", testTS.UnixMilli(), testTS, false},
		{"unix millis numeric string", "1748779200000", testTS, false},
		{"float64 from json", float64(testTS.UnixMilli()), testTS, false},
		{"empty string", "", time.Time{}, true},
		{"garbage string", "yesterday", time.Time{}, true},
		{"nil", nil, time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err == nil && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTimestampMicrosecondsFloorToMillis(t *testing.T) {
	// 10^13 is the cutoff: values above it are microseconds.
	usec := int64(1748779200123456) // 2025-06-01T12:00:00.123456Z in micros
	got, err := ParseTimestamp(usec)
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	want := time.UnixMilli(1748779200123).UTC()
	if !got.Equal(want) {
		t.Errorf("got %v, want %v (floored to millis)", got, want)
	}
	if s := FormatTimestamp(got); !strings.HasSuffix(s, ".123Z") {
		t.Errorf("formatted %q, want millisecond precision .123Z", s)
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := FormatTimestamp(testTS); got != "2025-06-01T12:00:00.000Z" {
		t.Errorf("got %q", got)
	}
}
