package queue

import (
	"fmt"

	"github.com/onnwee/streamfx/events"
)

// FormatDisplayText renders the viewer-facing text for an event.
func FormatDisplayText(ev *events.Event) string {
	switch ev.Type {
	case events.TypeChat:
		return fmt.Sprintf("%s: %s", ev.Username, ev.Message)
	case events.TypeFollow:
		return fmt.Sprintf("%s followed!", ev.Username)
	case events.TypeGreeting:
		return fmt.Sprintf("Welcome, %s!", ev.Username)
	case events.TypeFarewell:
		return fmt.Sprintf("See you, %s!", ev.Username)
	case events.TypeGift:
		g := ev.Gift
		if g == nil {
			return fmt.Sprintf("%s sent a gift!", ev.Username)
		}
		if g.GiftCount > 1 {
			return fmt.Sprintf("%s sent %dx %s!", ev.Username, g.GiftCount, g.GiftType)
		}
		return fmt.Sprintf("%s sent %s!", ev.Username, g.GiftType)
	case events.TypeEnvelope:
		e := ev.Envelope
		if e == nil {
			return fmt.Sprintf("%s sent a treasure chest!", ev.Username)
		}
		return fmt.Sprintf("%s opened a treasure chest: %dx %s!", ev.Username, e.GiftCount, e.GiftType)
	case events.TypeSub:
		s := ev.Sub
		if s != nil && s.Months > 1 {
			return fmt.Sprintf("%s resubscribed for %d months!", ev.Username, s.Months)
		}
		return fmt.Sprintf("%s subscribed!", ev.Username)
	case events.TypeGiftSub:
		gs := ev.GiftSub
		if gs != nil && gs.GiftCount > 1 {
			return fmt.Sprintf("%s gifted %d subs!", ev.Username, gs.GiftCount)
		}
		return fmt.Sprintf("%s gifted a sub!", ev.Username)
	case events.TypeRaid:
		if ev.Raid != nil {
			return fmt.Sprintf("%s is raiding with %d viewers!", ev.Username, ev.Raid.ViewerCount)
		}
		return fmt.Sprintf("%s is raiding!", ev.Username)
	case events.TypeRedemption:
		if ev.Redemption != nil {
			return fmt.Sprintf("%s redeemed %s!", ev.Username, ev.Redemption.RewardTitle)
		}
		return fmt.Sprintf("%s redeemed a reward!", ev.Username)
	default:
		return fmt.Sprintf("%s: %s", ev.Username, ev.Message)
	}
}
