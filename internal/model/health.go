package model

import "time"

// ConnectionStatus is the backend reachability axis of the health record.
type ConnectionStatus string

const (
	ConnectionChecking     ConnectionStatus = "checking"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// AuthStatus is the session axis of the health record.
type AuthStatus string

const (
	AuthChecking        AuthStatus = "checking"
	AuthAuthenticated   AuthStatus = "authenticated"
	AuthUnauthenticated AuthStatus = "unauthenticated"
)

// HealthRecord is a point-in-time view of backend connectivity for the
// current session.
type HealthRecord struct {
	Connection ConnectionStatus
	Auth       AuthStatus

	// LastChecked only moves forward.
	LastChecked time.Time

	// ErrorCount never decreases except on an explicit reset.
	ErrorCount int

	// LastRTT is the round-trip time of the most recent successful probe.
	LastRTT time.Duration

	// Channels holds the last known status of each realtime channel.
	Channels map[string]SubscriptionStatus
}

// Healthy reports whether the backend is connected and no errors have
// been recorded since the last reset.
func (r HealthRecord) Healthy() bool {
	return r.Connection == ConnectionConnected && r.ErrorCount == 0
}
