package domain

import "time"

// User is an authenticated end-user. UserID is derived deterministically
// from the normalized email, so concurrent first logins converge on the
// same record.
type User struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	TenantID    string    `json:"tenant_id,omitempty"` // empty for legacy/global users
	CreatedAt   time.Time `json:"created_at"`
	LastLogin   time.Time `json:"last_login"`
}

// PublicUser is the enumeration-safe projection returned by the public
// user lookup. It must never carry the email.
type PublicUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

func (u *User) Public() PublicUser {
	return PublicUser{UserID: u.UserID, DisplayName: u.DisplayName}
}
