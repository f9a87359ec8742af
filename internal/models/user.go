package models

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is used for users that never set one.
const DefaultTimezone = "UTC"

// User is a registry entry: one person whose listening history is mirrored.
type User struct {
	id            string
	sequence      int
	name          string
	spotifyUserID string
	refreshToken  string
	timezone      string
	enabled       bool
	lastSyncAt    *time.Time
	lastError     string
	createdAt     time.Time
	updatedAt     time.Time
	deletedAt     *time.Time
}

// NewUser creates an enabled [User] with the given display name and refresh token.
func NewUser(sequence int, name, refreshToken string) *User {
	now := time.Now()
	return &User{
		sequence:     sequence,
		name:         name,
		refreshToken: refreshToken,
		timezone:     DefaultTimezone,
		enabled:      true,
		createdAt:    now,
		updatedAt:    now,
	}
}

func (u *User) ID() string             { return u.id }
func (u *User) Sequence() int          { return u.sequence }
func (u *User) Name() string           { return u.name }
func (u *User) SpotifyUserID() string  { return u.spotifyUserID }
func (u *User) RefreshToken() string   { return u.refreshToken }
func (u *User) Timezone() string       { return u.timezone }
func (u *User) Enabled() bool          { return u.enabled }
func (u *User) LastSyncAt() *time.Time { return u.lastSyncAt }
func (u *User) LastError() string      { return u.lastError }
func (u *User) CreatedAt() time.Time   { return u.createdAt }
func (u *User) UpdatedAt() time.Time   { return u.updatedAt }
func (u *User) DeletedAt() *time.Time  { return u.deletedAt }

func (u *User) SetID(id string)              { u.id = id }
func (u *User) SetSequence(seq int)          { u.sequence = seq }
func (u *User) SetName(name string)          { u.name = name }
func (u *User) SetSpotifyUserID(id string)   { u.spotifyUserID = id }
func (u *User) SetRefreshToken(token string) { u.refreshToken = token }
func (u *User) SetEnabled(enabled bool)      { u.enabled = enabled }
func (u *User) SetLastError(msg string)      { u.lastError = msg }
func (u *User) SetLastSyncAt(t *time.Time)   { u.lastSyncAt = t }
func (u *User) SetCreatedAt(t time.Time)     { u.createdAt = t }
func (u *User) SetUpdatedAt(t time.Time)     { u.updatedAt = t }
func (u *User) SetDeletedAt(t *time.Time)    { u.deletedAt = t }

// SetTimezone sets the IANA zone used to format the user's log dates.
// An empty name resets it to [DefaultTimezone].
func (u *User) SetTimezone(tz string) {
	if tz == "" {
		tz = DefaultTimezone
	}
	u.timezone = tz
}

// Location loads the user's timezone, falling back to UTC for unknown zones.
func (u *User) Location() *time.Location {
	loc, err := time.LoadLocation(u.timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks required fields and that the timezone is loadable.
func (u *User) Validate() error {
	if strings.TrimSpace(u.name) == "" {
		return fmt.Errorf("user name is required")
	}
	if _, err := time.LoadLocation(u.timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", u.timezone, err)
	}
	return nil
}
