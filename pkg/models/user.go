package models

type UserRole string

const (
	RoleUser    UserRole = "USER"
	RoleAdmin   UserRole = "ADMIN"
	RoleSupport UserRole = "SUPPORT"
)

type User struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Role  UserRole `json:"role"`
	// Balance in whole currency units.
	Balance int64 `json:"balance"`
	// PassHash is a bcrypt hash; stripped before the record leaves the API.
	PassHash       string `json:"pass_hash,omitempty"`
	Avatar         string `json:"avatar,omitempty"`
	PhoneNumber    string `json:"phone_number,omitempty"`
	TelegramHandle string `json:"telegram_handle,omitempty"`
	TasksDone      int    `json:"tasks_done"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
}

// Sanitized returns a copy safe to hand to clients.
func (u User) Sanitized() User {
	u.PassHash = ""
	return u
}
