// Package events defines the canonical event schema shared by every
// component downstream of the platform adapters. Each platform's raw chat
// items are normalized into an Event carrying exactly one type-specific
// payload; constructors enforce the payload invariants so later stages can
// trust the shape without re-checking.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform identifies the originating streaming platform.
type Platform string

const (
	PlatformTikTok  Platform = "tiktok"
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTikTok, PlatformTwitch, PlatformYouTube:
		return true
	}
	return false
}

// Type tags the event variant. "paypiggy" is the platform-neutral name for
// a subscription/membership, "giftpaypiggy" for a gifted one, "envelope"
// for TikTok's treasure-chest gift.
type Type string

const (
	TypeChat       Type = "chat"
	TypeFollow     Type = "follow"
	TypeSub        Type = "paypiggy"
	TypeGiftSub    Type = "giftpaypiggy"
	TypeGift       Type = "gift"
	TypeEnvelope   Type = "envelope"
	TypeRaid       Type = "raid"
	TypeRedemption Type = "redemption"
	TypeFarewell   Type = "farewell"
	TypeGreeting   Type = "greeting"
)

// GiftPayload covers bits, super-chats, stickers and coin gifts.
type GiftPayload struct {
	GiftType    string  `json:"giftType"`
	GiftCount   int     `json:"giftCount"`
	Amount      float64 `json:"amount"` // coins/bits/currency units
	Currency    string  `json:"currency"`
	RepeatCount int     `json:"repeatCount,omitempty"`
	Tier        string  `json:"tier,omitempty"`
	// IsAggregated marks a synthetic event standing in for several
	// suppressed gifts; the spam detector skips these.
	IsAggregated bool `json:"isAggregated,omitempty"`
}

// EnvelopePayload is a gift plus the opaque upstream envelope blob.
type EnvelopePayload struct {
	GiftPayload
	OriginalEnvelopeData any `json:"originalEnvelopeData,omitempty"`
}

// SubPayload describes a subscription or membership.
type SubPayload struct {
	Tier      string `json:"tier"`
	Months    int    `json:"months"`
	Message   string `json:"message,omitempty"`
	IsRenewal bool   `json:"isRenewal,omitempty"`
}

// GiftSubPayload describes gifted subscriptions.
type GiftSubPayload struct {
	GiftCount       int    `json:"giftCount"`
	Tier            string `json:"tier,omitempty"` // twitch only
	CumulativeTotal int    `json:"cumulativeTotal,omitempty"`
	IsAnonymous     bool   `json:"isAnonymous,omitempty"`
}

// RaidPayload carries the inbound raid size.
type RaidPayload struct {
	ViewerCount int `json:"viewerCount"`
}

// RedemptionPayload describes a channel-point reward redemption.
type RedemptionPayload struct {
	RewardTitle string `json:"rewardTitle"`
	RewardCost  int    `json:"rewardCost"`
}

// Event is the canonical normalized event. Exactly one payload pointer is
// non-nil for the monetization/raid/redemption variants; chat, follow,
// greeting and farewell carry no payload beyond the common fields.
type Event struct {
	Platform  Platform  `json:"platform"`
	Type      Type      `json:"type"`
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// IsError relaxes the numeric payload requirements; set by upstream
	// error notifications so they can still be displayed.
	IsError bool `json:"isError,omitempty"`

	Gift       *GiftPayload       `json:"gift,omitempty"`
	Envelope   *EnvelopePayload   `json:"envelope,omitempty"`
	Sub        *SubPayload        `json:"paypiggy,omitempty"`
	GiftSub    *GiftSubPayload    `json:"giftpaypiggy,omitempty"`
	Raid       *RaidPayload       `json:"raid,omitempty"`
	Redemption *RedemptionPayload `json:"redemption,omitempty"`
}

var (
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrMissingUserID   = errors.New("missing userId")
	ErrMissingUsername = errors.New("missing username")
)

// New builds a non-monetary event (chat, follow, greeting, farewell).
func New(platform Platform, typ Type, id, userID, username, message string, ts time.Time) (Event, error) {
	ev := Event{Platform: platform, Type: typ, ID: id, UserID: userID, Username: username, Message: message, Timestamp: ts.UTC()}
	if err := ev.validateCommon(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// NewGift builds a gift event enforcing the gift invariants: strictly
// positive giftCount and amount and a non-empty id, unless isError.
func NewGift(platform Platform, id, userID, username string, ts time.Time, p GiftPayload, isError bool) (Event, error) {
	ev := Event{Platform: platform, Type: TypeGift, ID: id, UserID: userID, Username: username, Timestamp: ts.UTC(), IsError: isError, Gift: &p}
	if err := ev.validateCommon(); err != nil {
		return Event{}, err
	}
	if !isError {
		if err := validateGiftPayload(id, p); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}

// NewEnvelope builds a treasure-chest gift event; same invariants as gifts.
func NewEnvelope(platform Platform, id, userID, username string, ts time.Time, p EnvelopePayload, isError bool) (Event, error) {
	ev := Event{Platform: platform, Type: TypeEnvelope, ID: id, UserID: userID, Username: username, Timestamp: ts.UTC(), IsError: isError, Envelope: &p}
	if err := ev.validateCommon(); err != nil {
		return Event{}, err
	}
	if !isError {
		if err := validateGiftPayload(id, p.GiftPayload); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}

// NewSub builds a subscription/membership event.
func NewSub(platform Platform, id, userID, username string, ts time.Time, p SubPayload) (Event, error) {
	ev := Event{Platform: platform, Type: TypeSub, ID: id, UserID: userID, Username: username, Message: p.Message, Timestamp: ts.UTC(), Sub: &p}
	if err := ev.validateCommon(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// NewGiftSub builds a gifted-subscription event.
func NewGiftSub(platform Platform, id, userID, username string, ts time.Time, p GiftSubPayload) (Event, error) {
	ev := Event{Platform: platform, Type: TypeGiftSub, ID: id, UserID: userID, Username: username, Timestamp: ts.UTC(), GiftSub: &p}
	if err := ev.validateCommon(); err != nil {
		return Event{}, err
	}
	if p.GiftCount < 1 {
		return Event{}, fmt.Errorf("giftpaypiggy requires giftCount >= 1, got %d", p.GiftCount)
	}
	return ev, nil
}

// NewRaid builds a raid event.
func NewRaid(platform Platform, id, userID, username string, ts time.Time, viewers int) (Event, error) {
	ev := Event{Platform: platform, Type: TypeRaid, ID: id, UserID: userID, Username: username, Timestamp: ts.UTC(), Raid: &RaidPayload{ViewerCount: viewers}}
	if err := ev.validateCommon(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// NewRedemption builds a channel-point redemption event.
func NewRedemption(platform Platform, id, userID, username string, ts time.Time, p RedemptionPayload) (Event, error) {
	ev := Event{Platform: platform, Type: TypeRedemption, ID: id, UserID: userID, Username: username, Timestamp: ts.UTC(), Redemption: &p}
	if err := ev.validateCommon(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (e *Event) validateCommon() error {
	if !e.Platform.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, e.Platform)
	}
	if e.UserID == "" {
		return ErrMissingUserID
	}
	if strings.TrimSpace(e.Username) == "" {
		return ErrMissingUsername
	}
	return nil
}

func validateGiftPayload(id string, p GiftPayload) error {
	if id == "" {
		return errors.New("gift requires a non-empty id")
	}
	if p.GiftCount < 1 {
		return fmt.Errorf("gift requires giftCount >= 1, got %d", p.GiftCount)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("gift requires amount > 0, got %v", p.Amount)
	}
	return nil
}

// Monetary reports whether the event carries a currency amount toward a
// goal. Redemptions spend channel points, which never count.
func (e *Event) Monetary() bool {
	return e.Type == TypeGift || e.Type == TypeEnvelope
}

// Amount returns the monetary total of the event, zero for non-monetary
// variants.
func (e *Event) Amount() float64 {
	switch {
	case e.Gift != nil:
		return e.Gift.Amount
	case e.Envelope != nil:
		return e.Envelope.Amount
	}
	return 0
}
