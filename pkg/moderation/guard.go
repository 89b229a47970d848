// Package moderation implements the chat guard: forbidden-term scanning
// with escalating per-user sanctions.
package moderation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"earnhub/pkg/logger"
	"earnhub/pkg/models"
	"earnhub/pkg/notify"
	"earnhub/pkg/store"
	"earnhub/pkg/telemetry"
	"earnhub/pkg/utils"
)

// BotAuthorID and BotAuthorName identify the guard's system messages in
// the chat stream.
const (
	BotAuthorID   = "bot-guard"
	BotAuthorName = "GUARD BOT"
)

// permanentBan is the far-future sentinel used for the terminal sanction.
const permanentBan = 100 * 365 * 24 * time.Hour

const (
	muteReason = "Second violation: 10-minute mute"
	lockReason = "Third violation: 24-hour chat lock"
	banReason  = "Severe violation: PERMANENT BAN"
)

// Verdict is the outcome of evaluating one outgoing message.
type Verdict struct {
	Blocked bool
	Term    string
	Reason  string
	Record  models.ModerationRecord
}

// Guard scans outgoing chat messages and applies the escalation policy.
type Guard struct {
	terms    []string
	room     string
	notifier notify.Notifier

	// now is swappable for tests.
	now func() time.Time
}

// NewGuard builds a guard for the given room and policy term list. Terms
// are matched as case-insensitive substrings.
func NewGuard(terms []string, room string, n notify.Notifier) *Guard {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			lowered = append(lowered, t)
		}
	}
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Guard{terms: lowered, room: room, notifier: n, now: time.Now}
}

// MatchForbidden returns the first forbidden term contained in text, if any.
func (g *Guard) MatchForbidden(text string) (string, bool) {
	lo := strings.ToLower(text)
	for _, t := range g.terms {
		if strings.Contains(lo, t) {
			return t, true
		}
	}
	return "", false
}

// IsSanctioned reports whether the user has an active sanction at now.
// Expired sanctions are left in place; expiry is decided on read.
func (g *Guard) IsSanctioned(userID string) (models.Sanction, bool, error) {
	rec, err := store.GetModeration(userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Sanction{}, false, nil
	}
	if err != nil {
		return models.Sanction{}, false, err
	}
	return rec.Sanction, rec.Sanction.ActiveAt(g.now()), nil
}

// Evaluate decides whether the message is admissible. A clean message
// returns an allowed verdict and changes no state. A violation increments
// the author's warning count, applies the escalation step for the new
// count, persists the record, and posts the guard's log message to the
// room. The verdict stands even when persistence fails; the error is
// returned alongside it so the caller can surface the write failure.
func (g *Guard) Evaluate(user models.User, text string) (Verdict, error) {
	term, hit := g.MatchForbidden(text)
	if !hit {
		return Verdict{}, nil
	}

	// escalation is by exact count; hold the record lock so two concurrent
	// violations cannot read the same count
	defer store.LockModeration(user.ID)()

	now := g.now()
	rec, err := store.GetModeration(user.ID)
	if errors.Is(err, store.ErrNotFound) {
		rec = models.ModerationRecord{UserID: user.ID}
	} else if err != nil {
		return Verdict{}, err
	}

	rec.WarningCount++
	rec.UpdatedTS = now.UnixNano()

	var botText, reason string
	switch {
	case rec.WarningCount == 1:
		botText = fmt.Sprintf("WARNING: @%s, your message contains forbidden content (%d/3).", user.Name, rec.WarningCount)
		telemetry.SanctionsTotal.WithLabelValues("warning").Inc()
	case rec.WarningCount == 2:
		reason = muteReason
		rec.Sanction = models.Sanction{Active: true, ExpiresTS: now.Add(10 * time.Minute).UnixNano(), Reason: reason}
		telemetry.SanctionsTotal.WithLabelValues("mute").Inc()
	case rec.WarningCount == 3:
		reason = lockReason
		rec.Sanction = models.Sanction{Active: true, ExpiresTS: now.Add(24 * time.Hour).UnixNano(), Reason: reason}
		telemetry.SanctionsTotal.WithLabelValues("lock").Inc()
	default:
		reason = banReason
		rec.Sanction = models.Sanction{Active: true, ExpiresTS: now.Add(permanentBan).UnixNano(), Reason: reason}
		telemetry.SanctionsTotal.WithLabelValues("ban").Inc()
	}
	if reason != "" {
		botText = fmt.Sprintf("BOT LOG: %s sanctioned: %s", user.Name, reason)
	}

	telemetry.ViolationsTotal.Inc()
	logger.AuditEvent("moderation_violation",
		"user", user.ID,
		"term", term,
		"warning_count", rec.WarningCount,
		"reason", reason,
	)

	persistErr := store.SaveModeration(rec)
	if persistErr != nil {
		logger.Error("moderation_persist_failed", "user", user.ID, "error", persistErr)
	}

	g.postBotMessage(botText)
	g.notifier.Notify(user.ID, notify.SeverityWarning, botText)

	return Verdict{Blocked: true, Term: term, Reason: reason, Record: rec}, persistErr
}

// postBotMessage appends the guard's log line to the room stream.
func (g *Guard) postBotMessage(text string) {
	msg := models.ChatMessage{
		ID:         utils.GenID(),
		Room:       g.room,
		AuthorID:   BotAuthorID,
		AuthorName: BotAuthorName,
		Role:       models.RoleAdmin,
		Kind:       models.KindText,
		Origin:     models.OriginBot,
		Text:       text,
		TS:         g.now().UnixNano(),
	}
	if err := store.SaveMessage(msg); err != nil {
		logger.Error("bot_message_failed", "error", err)
	}
}
