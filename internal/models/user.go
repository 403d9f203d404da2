// Package models provides data models for the wearable sync system.
package models

import (
	"time"
)

// User represents a user and their wearable connection state
type User struct {
	ID                 string     `json:"id" db:"id"`
	Email              string     `json:"email" db:"email"`
	TerraUserID        *string    `json:"terraUserId,omitempty" db:"terra_user_id"`
	TerraReferenceID   *string    `json:"terraReferenceId,omitempty" db:"terra_reference_id"`
	TerraProvider      *string    `json:"terraProvider,omitempty" db:"terra_provider"`
	TerraConnected     bool       `json:"terraConnected" db:"terra_connected"`
	FetchEnabled       *bool      `json:"fetchEnabled,omitempty" db:"fetch_enabled"`
	LastSyncedAt       *time.Time `json:"lastSyncedAt,omitempty" db:"last_synced_at"`
	NextScheduledFetch *time.Time `json:"nextScheduledFetch,omitempty" db:"next_scheduled_fetch"`
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsEligibleForFetch reports whether the scheduled fetch should include this user.
// Fetching is on unless FetchEnabled is explicitly false.
func (u *User) IsEligibleForFetch() bool {
	if u.TerraUserID == nil || *u.TerraUserID == "" {
		return false
	}
	if !u.TerraConnected {
		return false
	}
	return u.FetchEnabled == nil || *u.FetchEnabled
}

// TerraID returns the provider user id or an empty string
func (u *User) TerraID() string {
	if u.TerraUserID == nil {
		return ""
	}
	return *u.TerraUserID
}

// ReferenceID returns the provider reference id or an empty string
func (u *User) ReferenceID() string {
	if u.TerraReferenceID == nil {
		return ""
	}
	return *u.TerraReferenceID
}
