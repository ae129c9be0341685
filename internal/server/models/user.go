// Package models defines server-side data models persisted in PostgreSQL.
package models

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
}

type RefreshToken struct {
	UserID    string
	DeviceID  string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}

// Device is one client installation of a user.
type Device struct {
	UserID     string
	DeviceID   string
	Name       string
	Type       string
	LastSyncAt *time.Time
	CreatedAt  time.Time
}
