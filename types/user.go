package types

import "time"

// Roles assignable to a user account.
const (
	// RoleUser is a regular customer who uploads files and spends credits.
	RoleUser = "user"

	// RoleExpert is a tuner who can be assigned files to process.
	RoleExpert = "expert"

	// RoleAdmin has full access, including workflow transitions,
	// assignments, role changes and credit adjustments.
	RoleAdmin = "admin"
)

// Email digest preferences.
const (
	DigestNone   = "none"
	DigestDaily  = "daily"
	DigestWeekly = "weekly"
)

// User represents an account in the system.
// It contains identity, role, credit balance and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's email address.
	Email string `json:"email" db:"email"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Role indicates the user's authorization level within the system.
	// One of "user", "expert" or "admin".
	Role string `json:"role" db:"role"`

	// Credits is the user's current credit balance. It is a cache of the
	// signed sum of the user's credit transactions and is only ever
	// written together with a transaction row.
	Credits int `json:"credits" db:"credits"`

	// EmailDigest controls the periodic notification summary email.
	// One of "none", "daily" or "weekly".
	EmailDigest string `json:"email_digest" db:"email_digest"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsExpert reports whether the user holds the expert role.
func (u User) IsExpert() bool { return u.Role == RoleExpert }

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }
