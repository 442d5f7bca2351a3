package models

import "time"

// DeviceSession binds one transport channel to a user's broadcast group.
// A physical device may hold several sessions during a reconnect window.
type DeviceSession struct {
	ChannelID string
	DeviceID  string
	UserID    string
	Meta      map[string]string
	CreatedAt time.Time
	LastSeen  time.Time
	Active    bool
}
