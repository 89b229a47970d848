package models

import "time"

// Sanction is a time-boxed or permanent restriction on sending chat messages.
// Active implies ExpiresTS is set; permanent bans carry a far-future sentinel
// rather than a null deadline.
type Sanction struct {
	Active    bool   `json:"active"`
	ExpiresTS int64  `json:"expires_ts,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ActiveAt reports whether the sanction restricts the user at the given
// moment. Expiry is evaluated lazily; stored state is never mutated here.
func (s Sanction) ActiveAt(now time.Time) bool {
	return s.Active && now.UnixNano() < s.ExpiresTS
}

// ModerationRecord tracks escalation state for one user. Created lazily on
// first lookup and never deleted.
type ModerationRecord struct {
	UserID       string   `json:"user_id"`
	WarningCount int      `json:"warning_count"`
	Sanction     Sanction `json:"sanction"`
	UpdatedTS    int64    `json:"updated_ts,omitempty"`
}
