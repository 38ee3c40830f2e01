package sessions

import "time"

// Session ata una identidad autenticada a un device fingerprint.
// Estados: active → elevated → active (one-shot) y active → invalidated
// (terminal: mismatch de fingerprint, logout explícito o staleness).
type Session struct {
	ID     string
	UserID string

	DeviceFingerprint string

	CreatedAt       time.Time
	LastValidatedAt time.Time

	// Elevación one-shot: la consume la próxima operación sensible
	// o vence sola pasada la ventana corta.
	Elevated   bool
	ElevatedAt *time.Time

	Invalidated       bool
	InvalidatedReason string
}
