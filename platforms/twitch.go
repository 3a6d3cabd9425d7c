package platforms

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/events"
	"github.com/onnwee/streamfx/notify"
)

// anonGifterID is the well-known user id behind AnAnonymousGifter.
const anonGifterID = "274598607"

// TokenSource yields the current IRC credential; the auth manager's
// provider satisfies it.
type TokenSource interface {
	IRCToken() string
}

// Twitch is the IRC ingress adapter. It maps chat messages, cheers,
// subscription notices, raids and channel-point redemptions onto the
// notification processor.
type Twitch struct {
	cfg       config.TwitchConfig
	client    *twitchirc.Client
	bus       *bus.Bus
	lifecycle *Lifecycle
	processor *notify.Processor
}

// NewTwitch wires the IRC client. The processor must be built for the
// twitch platform with a twitch extractor (see NewTwitchProcessor).
func NewTwitch(cfg config.TwitchConfig, tokens TokenSource, b *bus.Bus, lc *Lifecycle, proc *notify.Processor) *Twitch {
	t := &Twitch{
		cfg:       cfg,
		client:    twitchirc.NewClient(cfg.BotUsername, tokens.IRCToken()),
		bus:       b,
		lifecycle: lc,
		processor: proc,
	}

	t.client.OnConnect(func() {
		t.client.Join(cfg.Channel)
		if t.lifecycle != nil {
			t.lifecycle.RecordConnect(events.PlatformTwitch)
		}
		if t.bus != nil {
			t.bus.Emit(bus.TopicTwitchConnected, cfg.Channel)
		}
	})
	t.client.OnPrivateMessage(t.onPrivateMessage)
	t.client.OnUserNoticeMessage(t.onUserNotice)

	return t
}

// Run connects and blocks until the context is cancelled or the
// connection fails terminally.
func (t *Twitch) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- t.client.Connect()
	}()
	select {
	case <-ctx.Done():
		t.client.Disconnect()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil && t.bus != nil {
			t.bus.Emit(bus.TopicPlatformError, err)
		}
		return err
	}
}

// Say sends a chat line to the joined channel; command responses use it.
func (t *Twitch) Say(text string) {
	if text == "" {
		return
	}
	t.client.Say(t.cfg.Channel, text)
}

func (t *Twitch) onPrivateMessage(m twitchirc.PrivateMessage) {
	if t.lifecycle != nil && t.lifecycle.ShouldSkipForConnection(events.PlatformTwitch, m.Time) {
		slog.Debug("dropping pre-connect chat message", slog.String("platform", "twitch"))
		return
	}

	switch {
	case m.Bits > 0:
		t.processor.ProcessNotification(m, events.TypeGift, &notify.EventData{
			Gift: &events.GiftPayload{
				GiftType:  "Bits",
				GiftCount: 1,
				Amount:    float64(m.Bits),
				Currency:  "bits",
			},
		})
	case m.CustomRewardID != "":
		// IRC carries only the reward id; the title is resolved by the
		// display formatter from the message text when present.
		t.processor.ProcessNotification(m, events.TypeRedemption, &notify.EventData{
			Redemption: &events.RedemptionPayload{RewardTitle: m.CustomRewardID},
		})
	default:
		t.processor.ProcessNotification(m, events.TypeChat, nil)
	}
}

func (t *Twitch) onUserNotice(m twitchirc.UserNoticeMessage) {
	switch m.MsgID {
	case "sub", "resub":
		months, _ := strconv.Atoi(m.MsgParams["msg-param-cumulative-months"])
		if months < 1 {
			months = 1
		}
		t.processor.ProcessNotification(m, events.TypeSub, &notify.EventData{
			Sub: &events.SubPayload{
				Tier:      subTier(m.MsgParams["msg-param-sub-plan"]),
				Months:    months,
				Message:   m.Message,
				IsRenewal: m.MsgID == "resub",
			},
		})
	case "subgift", "anonsubgift":
		total, _ := strconv.Atoi(m.MsgParams["msg-param-sender-count"])
		t.processor.ProcessNotification(m, events.TypeGiftSub, &notify.EventData{
			GiftSub: &events.GiftSubPayload{
				GiftCount:       1,
				Tier:            subTier(m.MsgParams["msg-param-sub-plan"]),
				CumulativeTotal: total,
				IsAnonymous:     m.MsgID == "anonsubgift",
			},
		})
	case "submysterygift":
		count, _ := strconv.Atoi(m.MsgParams["msg-param-mass-gift-count"])
		if count < 1 {
			count = 1
		}
		total, _ := strconv.Atoi(m.MsgParams["msg-param-sender-count"])
		t.processor.ProcessNotification(m, events.TypeGiftSub, &notify.EventData{
			GiftSub: &events.GiftSubPayload{
				GiftCount:       count,
				Tier:            subTier(m.MsgParams["msg-param-sub-plan"]),
				CumulativeTotal: total,
			},
		})
	case "raid":
		viewers, _ := strconv.Atoi(m.MsgParams["msg-param-viewerCount"])
		t.processor.ProcessNotification(m, events.TypeRaid, &notify.EventData{
			Raid: &events.RaidPayload{ViewerCount: viewers},
		})
	default:
		slog.Debug("unhandled user notice", slog.String("msgId", m.MsgID))
	}
}

// subTier normalizes the IRC sub-plan tag to a display tier.
func subTier(plan string) string {
	switch plan {
	case "Prime":
		return "Prime"
	case "2000":
		return "Tier 2"
	case "3000":
		return "Tier 3"
	case "1000", "":
		return "Tier 1"
	default:
		return plan
	}
}

// twitchExtractor adapts go-twitch-irc message types to the processor.
type twitchExtractor struct{}

// NewTwitchProcessor builds the notification processor for the IRC
// adapter.
func NewTwitchProcessor(b *bus.Bus, opts ...notify.Option) *notify.Processor {
	return notify.NewProcessor(events.PlatformTwitch, twitchExtractor{}, b, opts...)
}

func (twitchExtractor) ExtractAuthor(raw any) (notify.Author, bool) {
	switch m := raw.(type) {
	case twitchirc.PrivateMessage:
		return notify.Author{ID: m.User.ID, Name: displayName(m.User)}, true
	case twitchirc.UserNoticeMessage:
		return notify.Author{ID: m.User.ID, Name: displayName(m.User)}, true
	}
	return notify.Author{}, false
}

func (twitchExtractor) ExtractMessage(raw any) string {
	switch m := raw.(type) {
	case twitchirc.PrivateMessage:
		return m.Message
	case twitchirc.UserNoticeMessage:
		return m.Message
	}
	return ""
}

func (twitchExtractor) ExtractID(raw any) string {
	switch m := raw.(type) {
	case twitchirc.PrivateMessage:
		return m.ID
	case twitchirc.UserNoticeMessage:
		return m.ID
	}
	return ""
}

func (twitchExtractor) ExtractTimestamp(raw any) any {
	switch m := raw.(type) {
	case twitchirc.PrivateMessage:
		return m.Time
	case twitchirc.UserNoticeMessage:
		return m.Time
	}
	return nil
}

func (twitchExtractor) IsAnonymous(a notify.Author) bool {
	return a.ID == anonGifterID || strings.EqualFold(a.Name, "AnAnonymousGifter")
}

func displayName(u twitchirc.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}
