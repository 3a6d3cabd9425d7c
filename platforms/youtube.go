package platforms

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/streamfx/bus"
	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/events"
	"github.com/onnwee/streamfx/notify"
	"github.com/onnwee/streamfx/tokenstore"
)

const defaultYouTubePollInterval = 5 * time.Second

// YouTube polls the live chat of the channel's active broadcast and maps
// messages, super chats, stickers and memberships onto the notification
// processor. Broadcast discovery emits a stream-detected notice so the
// lifecycle can re-init chat paging when the stream rolls over.
type YouTube struct {
	cfg       config.YouTubeConfig
	oauth     *oauth2.Config
	store     *tokenstore.Store
	bus       *bus.Bus
	lifecycle *Lifecycle
	processor *notify.Processor

	mu         sync.Mutex
	liveChatID string
	streamID   string
	pageToken  string
}

// NewYouTube builds the adapter. Tokens live in the JSON token store;
// refreshed tokens are written back so restarts reuse them.
func NewYouTube(cfg config.YouTubeConfig, store *tokenstore.Store, b *bus.Bus, lc *Lifecycle, proc *notify.Processor) *YouTube {
	y := &YouTube{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"https://www.googleapis.com/auth/youtube.readonly"},
		},
		store:     store,
		bus:       b,
		lifecycle: lc,
		processor: proc,
	}
	if lc != nil {
		lc.RegisterReinitHook(events.PlatformYouTube, y.reinitChat)
	}
	return y
}

// AuthCodeURL returns the interactive authorization URL.
func (y *YouTube) AuthCodeURL(state string) string {
	return y.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange completes the code grant and persists the token.
func (y *YouTube) Exchange(ctx context.Context, code string) error {
	tok, err := y.oauth.Exchange(ctx, code)
	if err != nil {
		return err
	}
	return y.saveToken(tok)
}

func (y *YouTube) saveToken(tok *oauth2.Token) error {
	return y.store.Save(tokenstore.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	})
}

func (y *YouTube) loadToken() (*oauth2.Token, error) {
	stored, err := y.store.Load()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		Expiry:       stored.ExpiresAt,
	}, nil
}

// client builds a YouTube service whose token source persists refreshed
// tokens back to the store.
func (y *YouTube) client(ctx context.Context) (*yt.Service, error) {
	tok, err := y.loadToken()
	if err != nil {
		return nil, err
	}
	src := &persistingTokenSource{
		base: y.oauth.TokenSource(ctx, tok),
		last: tok.AccessToken,
		save: y.saveToken,
	}
	return yt.New(oauth2.NewClient(ctx, src))
}

// Run discovers the active broadcast then polls its live chat until the
// context is cancelled. Discovery and poll failures back off and retry;
// they never take the process down.
func (y *YouTube) Run(ctx context.Context) error {
	interval := y.cfg.PollInterval
	if interval <= 0 {
		interval = defaultYouTubePollInterval
	}
	svc, err := y.client(ctx)
	if err != nil {
		slog.Error("youtube client init failed", slog.Any("err", err))
		if y.bus != nil {
			y.bus.Emit(bus.TopicPlatformError, err)
		}
		return err
	}

	connected := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		y.mu.Lock()
		chatID := y.liveChatID
		token := y.pageToken
		y.mu.Unlock()

		if chatID == "" {
			if err := y.discover(svc); err != nil {
				slog.Debug("no active broadcast", slog.Any("err", err))
				if !sleepCtx(ctx, 30*time.Second) {
					return ctx.Err()
				}
			}
			continue
		}

		if !connected {
			connected = true
			if y.lifecycle != nil {
				y.lifecycle.RecordConnect(events.PlatformYouTube)
			}
			if y.bus != nil {
				y.bus.Emit(bus.TopicYouTubeConnected, chatID)
			}
		}

		resp, err := svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).
			PageToken(token).Context(ctx).Do()
		if err != nil {
			slog.Warn("live chat poll failed", slog.Any("err", err))
			y.reinitChat(StreamDetected{})
			connected = false
			if !sleepCtx(ctx, interval) {
				return ctx.Err()
			}
			continue
		}

		y.mu.Lock()
		y.pageToken = resp.NextPageToken
		y.mu.Unlock()

		for _, item := range resp.Items {
			y.handleMessage(item)
		}

		wait := interval
		if serverWait := time.Duration(resp.PollingIntervalMillis) * time.Millisecond; serverWait > wait {
			wait = serverWait
		}
		if !sleepCtx(ctx, wait) {
			return ctx.Err()
		}
	}
}

// discover finds the channel's active broadcast and publishes it.
func (y *YouTube) discover(svc *yt.Service) error {
	resp, err := svc.LiveBroadcasts.List([]string{"snippet"}).
		BroadcastStatus("active").Mine(true).Do()
	if err != nil {
		return err
	}
	if len(resp.Items) == 0 {
		return errNoActiveBroadcast
	}
	b := resp.Items[0]
	y.mu.Lock()
	y.streamID = b.Id
	y.liveChatID = b.Snippet.LiveChatId
	y.pageToken = ""
	y.mu.Unlock()

	if y.bus != nil {
		y.bus.Emit(bus.TopicStreamDetected, StreamDetected{
			Platform: events.PlatformYouTube,
			StreamID: b.Id,
			ChatID:   b.Snippet.LiveChatId,
		})
	}
	return nil
}

// reinitChat resets paging so the poll loop rediscovers the broadcast.
func (y *YouTube) reinitChat(sd StreamDetected) {
	y.mu.Lock()
	y.liveChatID = sd.ChatID
	y.pageToken = ""
	if sd.StreamID != "" {
		y.streamID = sd.StreamID
	}
	y.mu.Unlock()
}

func (y *YouTube) handleMessage(m *yt.LiveChatMessage) {
	if m == nil || m.Snippet == nil {
		return
	}
	if y.lifecycle != nil && m.Snippet.Type == "textMessageEvent" &&
		y.lifecycle.ShouldSkipForConnection(events.PlatformYouTube, m.Snippet.PublishedAt) {
		return
	}

	switch m.Snippet.Type {
	case "textMessageEvent":
		y.processor.ProcessNotification(m, events.TypeChat, nil)
	case "superChatEvent":
		d := m.Snippet.SuperChatDetails
		if d == nil {
			return
		}
		y.processor.ProcessNotification(m, events.TypeGift, &notify.EventData{
			Gift: &events.GiftPayload{
				GiftType:  "Super Chat",
				GiftCount: 1,
				Amount:    float64(d.AmountMicros) / 1e6,
				Currency:  d.Currency,
				Tier:      tierString(d.Tier),
			},
		})
	case "superStickerEvent":
		d := m.Snippet.SuperStickerDetails
		if d == nil {
			return
		}
		y.processor.ProcessNotification(m, events.TypeGift, &notify.EventData{
			Gift: &events.GiftPayload{
				GiftType:  "Super Sticker",
				GiftCount: 1,
				Amount:    float64(d.AmountMicros) / 1e6,
				Currency:  d.Currency,
			},
		})
	case "newSponsorEvent":
		var tier string
		if d := m.Snippet.NewSponsorDetails; d != nil {
			tier = d.MemberLevelName
		}
		y.processor.ProcessNotification(m, events.TypeSub, &notify.EventData{
			Sub: &events.SubPayload{Tier: tier, Months: 1},
		})
	case "memberMilestoneChatEvent":
		d := m.Snippet.MemberMilestoneChatDetails
		if d == nil {
			return
		}
		y.processor.ProcessNotification(m, events.TypeSub, &notify.EventData{
			Sub: &events.SubPayload{
				Tier:      d.MemberLevelName,
				Months:    int(d.MemberMonth),
				Message:   d.UserComment,
				IsRenewal: true,
			},
		})
	case "membershipGiftingEvent":
		d := m.Snippet.MembershipGiftingDetails
		if d == nil {
			return
		}
		count := int(d.GiftMembershipsCount)
		if count < 1 {
			count = 1
		}
		y.processor.ProcessNotification(m, events.TypeGiftSub, &notify.EventData{
			GiftSub: &events.GiftSubPayload{
				GiftCount: count,
				Tier:      d.GiftMembershipsLevelName,
			},
		})
	default:
		slog.Debug("unhandled live chat item", slog.String("type", m.Snippet.Type))
	}
}

var errNoActiveBroadcast = errors.New("no active broadcast")

func tierString(tier int64) string {
	if tier <= 0 {
		return ""
	}
	return "Tier " + strconv.FormatInt(tier, 10)
}

// persistingTokenSource writes refreshed tokens back to the store.
type persistingTokenSource struct {
	base oauth2.TokenSource
	last string
	save func(*oauth2.Token) error
	mu   sync.Mutex
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	changed := tok.AccessToken != p.last
	if changed {
		p.last = tok.AccessToken
	}
	p.mu.Unlock()
	if changed {
		if err := p.save(tok); err != nil {
			slog.Warn("failed to persist refreshed token", slog.Any("err", err))
		}
	}
	return tok, nil
}

// youtubeExtractor adapts *yt.LiveChatMessage to the processor.
type youtubeExtractor struct{}

// NewYouTubeProcessor builds the notification processor for the live chat
// poller.
func NewYouTubeProcessor(b *bus.Bus, opts ...notify.Option) *notify.Processor {
	return notify.NewProcessor(events.PlatformYouTube, youtubeExtractor{}, b, opts...)
}

func (youtubeExtractor) ExtractAuthor(raw any) (notify.Author, bool) {
	m, ok := raw.(*yt.LiveChatMessage)
	if !ok || m.AuthorDetails == nil {
		return notify.Author{}, false
	}
	return notify.Author{ID: m.AuthorDetails.ChannelId, Name: m.AuthorDetails.DisplayName}, true
}

func (youtubeExtractor) ExtractMessage(raw any) string {
	m, ok := raw.(*yt.LiveChatMessage)
	if !ok || m.Snippet == nil {
		return ""
	}
	if m.Snippet.DisplayMessage != "" {
		return m.Snippet.DisplayMessage
	}
	if d := m.Snippet.TextMessageDetails; d != nil {
		return d.MessageText
	}
	return ""
}

func (youtubeExtractor) ExtractID(raw any) string {
	m, ok := raw.(*yt.LiveChatMessage)
	if !ok {
		return ""
	}
	return m.Id
}

func (youtubeExtractor) ExtractTimestamp(raw any) any {
	m, ok := raw.(*yt.LiveChatMessage)
	if !ok || m.Snippet == nil {
		return nil
	}
	return m.Snippet.PublishedAt
}

func (youtubeExtractor) IsAnonymous(notify.Author) bool { return false }

// sleepCtx sleeps for d or until ctx is done; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
