package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"studybot/internal/directory"
	"studybot/internal/recurrence"
	"studybot/internal/studyplan"
	logx "studybot/pkg/logx"
)

const handlerTimeout = 15 * time.Second

func (a *Adapter) registerCommands() {
	a.bot.Handle("/study", a.withTimeout(a.handleStudy))
	a.bot.Handle("/stopstudy", a.withTimeout(a.handleStopStudy))
	a.bot.Handle("/studytime", a.withTimeout(a.handleStudyTime))
	a.bot.Handle("/schedule", a.withTimeout(a.handleSchedule))
	a.bot.Handle("/schedules", a.withTimeout(a.handleSchedules))
	a.bot.Handle("/unschedule", a.withTimeout(a.handleUnschedule))
	a.bot.Handle("/help", a.withTimeout(a.handleHelp))
}

// withTimeout bounds each handler and keeps handler panics from taking
// the poller down with them.
func (a *Adapter) withTimeout(h func(ctx context.Context, c tele.Context) error) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("command handler panicked",
					logx.String("command", c.Text()), logx.Any("panic", r))
			}
		}()
		if c.Chat() == nil || c.Chat().Type == tele.ChatPrivate {
			return c.Send("Study mode works in group chats. Add me to a group and try there.")
		}
		return h(ctx, c)
	}
}

func (a *Adapter) maxMinutes() int {
	if a.cfg.MaxSessionMinutes > 0 && a.cfg.MaxSessionMinutes < 1440 {
		return a.cfg.MaxSessionMinutes
	}
	return 1440
}

func (a *Adapter) handleStudy(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Usage: /study <minutes>")
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil || minutes < 1 || minutes > a.maxMinutes() {
		return c.Send(fmt.Sprintf("Minutes must be a number between 1 and %d.", a.maxMinutes()))
	}

	userID, chatID := c.Sender().ID, c.Chat().ID
	member, err := a.Member(ctx, chatID, userID)
	if err != nil {
		return a.replyMemberError(c, err)
	}
	if err := member.GrantRole(ctx, a.cfg.Role); err != nil {
		return a.replyGrantError(c, err)
	}

	expires, err := a.timers.Start(ctx, userID, chatID, a.cfg.Role, minutes)
	if err != nil {
		// The restriction is on but won't expire on its own; undo it
		// rather than leave the member locked without a timer.
		if rerr := member.RevokeRole(ctx, a.cfg.Role); rerr != nil {
			a.log.Error("rollback revoke failed", logx.Int64("user", userID), logx.Err(rerr))
		}
		a.log.Error("study timer not persisted", logx.Int64("user", userID), logx.Err(err))
		return c.Send("Couldn't start the study session, please try again.")
	}

	return c.Send(fmt.Sprintf("Study mode on for %s. It lifts at %s.",
		humanDuration(time.Duration(minutes)*time.Minute),
		expires.In(a.cfg.Timezone).Format("15:04")))
}

func (a *Adapter) handleStopStudy(ctx context.Context, c tele.Context) error {
	userID, chatID := c.Sender().ID, c.Chat().ID

	existed, err := a.timers.Cancel(ctx, userID, chatID)
	if err != nil {
		a.log.Error("timer cancel failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send("Couldn't stop the session, please try again.")
	}
	if !existed {
		return c.Send("You have no active study session.")
	}

	member, err := a.Member(ctx, chatID, userID)
	if err == nil {
		if rerr := member.RevokeRole(ctx, a.cfg.Role); rerr != nil {
			a.log.Warn("revoke after stop failed", logx.Int64("user", userID), logx.Err(rerr))
		}
	}
	return c.Send("Study mode off. Welcome back!")
}

func (a *Adapter) handleStudyTime(ctx context.Context, c tele.Context) error {
	rem, err := a.timers.Remaining(ctx, c.Sender().ID, c.Chat().ID)
	if err != nil {
		a.log.Error("remaining lookup failed", logx.Int64("user", c.Sender().ID), logx.Err(err))
		return c.Send("Couldn't look that up, please try again.")
	}
	if rem <= 0 {
		return c.Send("You have no active study session.")
	}
	return c.Send(fmt.Sprintf("Study mode for another %s.", humanDuration(rem)))
}

func (a *Adapter) handleSchedule(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) < 2 || len(args) > 3 {
		return c.Send("Usage: /schedule <HH:MM> <minutes> [daily|mon..sun]")
	}

	hour, min, err := parseHHMM(args[0])
	if err != nil {
		return c.Send("Time must look like 21:30.")
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes < 1 || minutes > a.maxMinutes() {
		return c.Send(fmt.Sprintf("Minutes must be a number between 1 and %d.", a.maxMinutes()))
	}
	var repeat string
	if len(args) == 3 {
		repeat = args[2]
	}
	recurring, day, err := parseRepeat(repeat)
	if err != nil {
		return c.Send("Repeat must be daily or a weekday name (mon..sun).")
	}

	start := recurrence.UpcomingAt(time.Now().In(a.cfg.Timezone), hour, min, day)
	id, err := a.plans.Add(ctx, c.Sender().ID, c.Chat().ID, a.cfg.Role, start, minutes, recurring, day)
	if err != nil {
		if errors.Is(err, studyplan.ErrDurationRange) {
			return c.Send("Minutes must be between 1 and 1440.")
		}
		a.log.Error("schedule add failed", logx.Int64("user", c.Sender().ID), logx.Err(err))
		return c.Send("Couldn't save the schedule, please try again.")
	}

	return c.Send(fmt.Sprintf("Scheduled #%d: %s for %s, %s.",
		id, start.Format("Mon 15:04"),
		humanDuration(time.Duration(minutes)*time.Minute),
		describeRepeat(recurring, day)))
}

func (a *Adapter) handleSchedules(ctx context.Context, c tele.Context) error {
	list, err := a.plans.ListFor(ctx, c.Sender().ID, c.Chat().ID)
	if err != nil {
		a.log.Error("schedule list failed", logx.Int64("user", c.Sender().ID), logx.Err(err))
		return c.Send("Couldn't load your schedules, please try again.")
	}
	if len(list) == 0 {
		return c.Send("You have no scheduled study sessions. Use /schedule to add one.")
	}

	var b strings.Builder
	b.WriteString("Your scheduled study sessions:\n")
	for _, sc := range list {
		fmt.Fprintf(&b, "#%d - %s for %s, %s\n",
			sc.ID, sc.StartTime.In(a.cfg.Timezone).Format("Mon 02 Jan 15:04"),
			humanDuration(time.Duration(sc.DurationMinutes)*time.Minute),
			describeRepeat(sc.Recurring, sc.DayOfWeek))
	}
	return c.Send(b.String())
}

func (a *Adapter) handleUnschedule(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Usage: /unschedule <id>")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		return c.Send("Usage: /unschedule <id>")
	}

	// Only the owner may remove a schedule; ids are global, so check the
	// id against the sender's own list before touching it.
	list, err := a.plans.ListFor(ctx, c.Sender().ID, c.Chat().ID)
	if err != nil {
		a.log.Error("schedule list failed", logx.Int64("user", c.Sender().ID), logx.Err(err))
		return c.Send("Couldn't load your schedules, please try again.")
	}
	owned := false
	for _, sc := range list {
		if sc.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		return c.Send(fmt.Sprintf("Schedule #%d is not yours or doesn't exist.", id))
	}

	if _, err := a.plans.Remove(ctx, id); err != nil {
		a.log.Error("schedule remove failed", logx.Int64("id", id), logx.Err(err))
		return c.Send("Couldn't remove the schedule, please try again.")
	}
	return c.Send(fmt.Sprintf("Schedule #%d removed.", id))
}

func (a *Adapter) handleHelp(ctx context.Context, c tele.Context) error {
	return c.Send(strings.Join([]string{
		"Study mode commands:",
		"/study <minutes> - start a study session now",
		"/stopstudy - end your session early",
		"/studytime - how long until your session ends",
		"/schedule <HH:MM> <minutes> [daily|mon..sun] - plan a session",
		"/schedules - list your planned sessions",
		"/unschedule <id> - remove a planned session",
	}, "\n"))
}

func (a *Adapter) replyMemberError(c tele.Context, err error) error {
	a.log.Warn("member lookup failed", logx.Int64("user", c.Sender().ID), logx.Err(err))
	return c.Send("Couldn't look you up in this chat, please try again.")
}

func (a *Adapter) replyGrantError(c tele.Context, err error) error {
	a.log.Warn("grant failed", logx.Int64("user", c.Sender().ID), logx.Err(err))
	if errors.Is(err, directory.ErrPermissionDenied) {
		return c.Send("I can't restrict you here. I need admin rights with permission management, and admins can't be restricted at all.")
	}
	return c.Send("Couldn't enable study mode, please try again.")
}
