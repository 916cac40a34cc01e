// Package user provides the HTTP user identities loaded from config.
package user

// User is an account allowed to use the HTTP API
type User struct {
	ID           string // login name, owner key for conversations
	Name         string // display name
	PasswordHash string // bcrypt, or argon2id for older configs
}

// VerifyPassword checks password against the stored hash
func (u *User) VerifyPassword(password string) bool {
	if u == nil || u.PasswordHash == "" {
		return false
	}
	return VerifyPassword(password, u.PasswordHash)
}

// HasAuth reports whether the user can log in
func (u *User) HasAuth() bool {
	return u != nil && u.PasswordHash != ""
}
