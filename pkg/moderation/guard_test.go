package moderation

import (
	"strings"
	"testing"
	"time"

	"earnhub/pkg/models"
	"earnhub/pkg/notify"
	"earnhub/pkg/store"
)

func openStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func testUser() models.User {
	return models.User{ID: "u1", Name: "Alice", Role: models.RoleUser}
}

func TestEvaluateAllowsCleanMessage(t *testing.T) {
	openStore(t)
	g := NewGuard([]string{"hack", "scam"}, "community", notify.Nop{})

	for i := 0; i < 2; i++ {
		v, err := g.Evaluate(testUser(), "hello everyone")
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if v.Blocked {
			t.Fatalf("clean message blocked")
		}
	}
	if _, err := store.GetModeration("u1"); err != store.ErrNotFound {
		t.Fatalf("expected no record for clean messages, got err=%v", err)
	}
}

func TestFirstViolationWarnsWithoutMute(t *testing.T) {
	openStore(t)
	g := NewGuard([]string{"hack"}, "community", notify.Nop{})

	v, err := g.Evaluate(testUser(), "day la link hack nhe")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !v.Blocked || v.Term != "hack" {
		t.Fatalf("expected blocked on term hack, got %+v", v)
	}
	if v.Record.WarningCount != 1 {
		t.Fatalf("warning count = %d, want 1", v.Record.WarningCount)
	}
	if v.Record.Sanction.Active {
		t.Fatalf("first violation must not sanction")
	}
	if _, active, _ := g.IsSanctioned("u1"); active {
		t.Fatalf("user sanctioned after first violation")
	}
}

func TestEscalationLadder(t *testing.T) {
	openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGuard([]string{"hack"}, "community", notify.Nop{})
	g.now = func() time.Time { return base }

	want := []struct {
		reason string
		expiry time.Duration
	}{
		{"", 0},
		{"Second violation: 10-minute mute", 10 * time.Minute},
		{"Third violation: 24-hour chat lock", 24 * time.Hour},
		{"Severe violation: PERMANENT BAN", permanentBan},
		{"Severe violation: PERMANENT BAN", permanentBan},
	}
	for i, w := range want {
		v, err := g.Evaluate(testUser(), "hack tool here")
		if err != nil {
			t.Fatalf("evaluate #%d: %v", i+1, err)
		}
		if v.Record.WarningCount != i+1 {
			t.Fatalf("warning count = %d, want %d", v.Record.WarningCount, i+1)
		}
		if v.Reason != w.reason {
			t.Fatalf("violation #%d reason = %q, want %q", i+1, v.Reason, w.reason)
		}
		if w.expiry == 0 {
			continue
		}
		wantTS := base.Add(w.expiry).UnixNano()
		if v.Record.Sanction.ExpiresTS != wantTS {
			t.Fatalf("violation #%d expiry = %d, want %d", i+1, v.Record.Sanction.ExpiresTS, wantTS)
		}
		if _, active, _ := g.IsSanctioned("u1"); !active {
			t.Fatalf("violation #%d: expected active sanction", i+1)
		}
	}
}

func TestSanctionLazyExpiry(t *testing.T) {
	openStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGuard(nil, "community", notify.Nop{})
	g.now = func() time.Time { return now }

	rec := models.ModerationRecord{
		UserID:       "u1",
		WarningCount: 2,
		Sanction:     models.Sanction{Active: true, ExpiresTS: now.Add(time.Second).UnixNano(), Reason: "Second violation: 10-minute mute"},
	}
	if err := store.SaveModeration(rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, active, _ := g.IsSanctioned("u1"); !active {
		t.Fatalf("sanction expiring in 1s should be active")
	}

	rec.Sanction.ExpiresTS = now.Add(-time.Second).UnixNano()
	if err := store.SaveModeration(rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, active, _ := g.IsSanctioned("u1"); active {
		t.Fatalf("sanction expired 1s ago should be inactive")
	}
	// stored record stays untouched; expiry is decided on read
	got, err := store.GetModeration("u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Sanction.Active {
		t.Fatalf("stored sanction flag must not be cleared on read")
	}
}

func TestMatchIsCaseInsensitiveSubstring(t *testing.T) {
	g := NewGuard([]string{"scam"}, "community", notify.Nop{})
	if term, ok := g.MatchForbidden("beware of SCAMMERS"); !ok || term != "scam" {
		t.Fatalf("expected substring match, got %q %v", term, ok)
	}
	if _, ok := g.MatchForbidden("legit offer"); ok {
		t.Fatalf("unexpected match")
	}
}

func TestViolationPostsBotMessage(t *testing.T) {
	openStore(t)
	g := NewGuard([]string{"hack"}, "community", notify.Nop{})

	if _, err := g.Evaluate(testUser(), "free hack"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	msgs, err := store.ListMessages("community")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("message count = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.AuthorID != BotAuthorID || m.Origin != models.OriginBot {
		t.Fatalf("unexpected bot author: %+v", m)
	}
	if !strings.Contains(m.Text, "WARNING") || !strings.Contains(m.Text, "Alice") {
		t.Fatalf("unexpected bot text: %q", m.Text)
	}
}
