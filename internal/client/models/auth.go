package models

import "time"

// AuthTokens are issued by the server. ExpiresAt is computed locally as
// now + ExpiresIn seconds when the tokens are received.
type AuthTokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int64     `json:"expiresIn"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Stamp fills ExpiresAt relative to now.
func (t *AuthTokens) Stamp(now time.Time) {
	t.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Expired reports whether the access token is past its expiry at now.
func (t *AuthTokens) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// User is the authenticated account as reported by the server.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// DeviceInfo identifies this installation to the server.
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
}

// SyncConfig is the persisted per-installation sync identity.
type SyncConfig struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
	Enabled  bool   `json:"enabled"`
}
