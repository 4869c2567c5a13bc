package domain

import "time"

// User is the persisted profile of a principal that has logged in at least once.
type User struct {
	ID         string
	Subject    string
	Email      string
	GivenName  string
	FamilyName string
	// IsAdmin is an explicit approval granted through the user directory.
	IsAdmin bool
	// ProviderAdmin is the identity provider's admin flag as of the last login.
	ProviderAdmin bool
	FirstSeenAt   time.Time
	LastLoginAt   time.Time
}

// Principal projects the stored profile back into an identity.
func (u User) Principal() Principal {
	return Principal{
		Subject:    u.Subject,
		Email:      u.Email,
		GivenName:  u.GivenName,
		FamilyName: u.FamilyName,
		IsAdmin:    u.Admin(),
	}
}

// Admin reports whether the user is an admin by either route.
func (u User) Admin() bool { return u.IsAdmin || u.ProviderAdmin }
