package models

import "time"

// Credential is the opaque session key captured from the login flow
// together with its capture time. It is owned by the session service:
// written once per successful login, cleared on logout or confirmed
// expiry, and never logged.
type Credential struct {
	SessionKey string
	CapturedAt time.Time
}

// Valid reports whether the credential holds a session key.
func (c Credential) Valid() bool {
	return c.SessionKey != ""
}

// Redacted returns a loggable placeholder for the credential.
func (c Credential) Redacted() string {
	if !c.Valid() {
		return "<none>"
	}
	return "<redacted>"
}
