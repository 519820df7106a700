// Package telegram adapts the scheduling core to Telegram. It plays two
// parts: the directory.Directory implementation (study "roles" are
// realized as chat permission restrictions) and the command surface
// members interact with.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"studybot/internal/directory"
	"studybot/internal/roletimer"
	"studybot/internal/studyplan"
	logx "studybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// Timezone interprets "HH:MM" in commands.
	Timezone *time.Location

	// Role is the default study profile name.
	Role     string
	Profiles map[string]Profile

	// NotifyRate caps outgoing direct messages.
	NotifyRate int

	// MaxSessionMinutes bounds user-requested durations; 0 means the
	// engine cap (1440) applies alone.
	MaxSessionMinutes int
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter

	timers *roletimer.Service
	plans  *studyplan.Service
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.Local
	}
	rps := cfg.NotifyRate
	if rps <= 0 {
		rps = 1
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// AttachEngines wires the command handlers to the scheduling engines.
// Must be called before Start; the engines in turn hold this adapter as
// their Directory, so construction is necessarily two-phase.
func (a *Adapter) AttachEngines(timers *roletimer.Service, plans *studyplan.Service) {
	a.timers = timers
	a.plans = plans
	a.registerCommands()
}

// Start begins long-polling. It blocks until Stop is called.
func (a *Adapter) Start() {
	a.log.Info("telegram adapter started")
	a.bot.Start()
}

func (a *Adapter) Stop() {
	a.bot.Stop()
	a.log.Info("telegram adapter stopped")
}

// ---- directory.Directory ----

// Member resolves a chat member. Telegram failures map onto the
// directory error taxonomy so the engines stay platform-agnostic.
func (a *Adapter) Member(ctx context.Context, chatID, userID int64) (directory.Member, error) {
	chat := &tele.Chat{ID: chatID}
	user := &tele.User{ID: userID}
	cm, err := a.bot.ChatMemberOf(chat, user)
	if err != nil {
		return nil, mapError(err)
	}
	if cm.Role == tele.Left || cm.Role == tele.Kicked {
		return nil, fmt.Errorf("%w: user %d left chat %d", directory.ErrNotFound, userID, chatID)
	}
	return &chatMember{a: a, chat: chat, user: user, cm: cm}, nil
}

// Profile is the permission set a member keeps while holding the study
// role. Everything not granted here is denied for the duration.
type Profile struct {
	CanSendMessages bool
	CanSendMedia    bool
	CanSendOther    bool
	CanAddPreviews  bool
}

func (p Profile) rights() tele.Rights {
	return tele.Rights{
		CanSendMessages:  p.CanSendMessages,
		CanSendPhotos:    p.CanSendMedia,
		CanSendVideos:    p.CanSendMedia,
		CanSendAudios:    p.CanSendMedia,
		CanSendDocuments: p.CanSendMedia,
		CanSendOther:     p.CanSendOther,
		CanAddPreviews:   p.CanAddPreviews,
	}
}

// chatMember realizes the role abstraction on Telegram: granting the
// study role restricts the member to the profile's permissions, and
// revoking it lifts all bot-imposed restrictions.
type chatMember struct {
	a    *Adapter
	chat *tele.Chat
	user *tele.User
	cm   *tele.ChatMember
}

func (m *chatMember) HasRole(role string) bool {
	// The snapshot from ChatMemberOf is authoritative at discharge
	// time: a member restricted by the bot reports the Restricted
	// status until the restriction is lifted.
	return m.cm.Role == tele.Restricted
}

func (m *chatMember) GrantRole(ctx context.Context, role string) error {
	profile, ok := m.a.cfg.Profiles[role]
	if !ok {
		return fmt.Errorf("unknown study profile %q", role)
	}
	if m.cm.Role == tele.Administrator || m.cm.Role == tele.Creator {
		// Telegram refuses to restrict admins; surface it as the same
		// class of failure as a rank problem.
		return fmt.Errorf("%w: cannot restrict admin %d", directory.ErrPermissionDenied, m.user.ID)
	}
	err := m.a.bot.Restrict(m.chat, &tele.ChatMember{
		User:            m.user,
		Rights:          profile.rights(),
		RestrictedUntil: tele.Forever(),
	})
	if err != nil {
		return mapError(err)
	}
	m.cm.Role = tele.Restricted
	return nil
}

func (m *chatMember) RevokeRole(ctx context.Context, role string) error {
	err := m.a.bot.Restrict(m.chat, &tele.ChatMember{
		User:   m.user,
		Rights: tele.NoRestrictions(),
	})
	if err != nil {
		return mapError(err)
	}
	m.cm.Role = tele.Member
	return nil
}

func (m *chatMember) Notify(ctx context.Context, text string) error {
	if err := m.a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := m.a.bot.Send(m.user, text)
	return err
}

// mapError folds Telegram API errors into the directory taxonomy.
func mapError(err error) error {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		desc := strings.ToLower(apiErr.Description)
		switch {
		case strings.Contains(desc, "not found"):
			return fmt.Errorf("%w: %s", directory.ErrNotFound, apiErr.Description)
		case apiErr.Code == 403,
			strings.Contains(desc, "not enough rights"),
			strings.Contains(desc, "can't restrict"):
			return fmt.Errorf("%w: %s", directory.ErrPermissionDenied, apiErr.Description)
		}
	}
	return err
}
