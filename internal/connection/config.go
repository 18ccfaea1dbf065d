package connection

import (
	"fmt"
	"regexp"
	"time"
)

// Default limits for ConnectionConfig validation.
const (
	MaxHostnameLen = 253
	MaxUsernameLen = 64
)

var (
	hostnameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?$`)
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// ConnectionConfig describes how to reach a remote shell. It is immutable
// once a Session has been created from it.
type ConnectionConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`

	// Credential: at least one of Password or PrivateKey must be set.
	Password   string `json:"-"`
	PrivateKey []byte `json:"-"`
	Passphrase string `json:"-"`

	KeepaliveInterval time.Duration `json:"keepalive_interval,omitempty"`
	ConnectTimeout    time.Duration `json:"connect_timeout,omitempty"`
	Compression       bool          `json:"compression,omitempty"`
}

// Validate checks the config's format constraints. It returns a
// *ValidationError describing the first violation found, or nil.
func (c ConnectionConfig) Validate() error {
	if c.Host == "" {
		return &ValidationError{Field: "host", Reason: "must not be empty"}
	}
	if len(c.Host) > MaxHostnameLen {
		return &ValidationError{Field: "host", Reason: fmt.Sprintf("longer than %d characters", MaxHostnameLen)}
	}
	if !hostnameRe.MatchString(c.Host) {
		return &ValidationError{Field: "host", Reason: "contains characters outside [A-Za-z0-9.-]"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ValidationError{Field: "port", Reason: fmt.Sprintf("%d outside range 1-65535", c.Port)}
	}
	if c.Username == "" {
		return &ValidationError{Field: "username", Reason: "must not be empty"}
	}
	if len(c.Username) > MaxUsernameLen {
		return &ValidationError{Field: "username", Reason: fmt.Sprintf("longer than %d characters", MaxUsernameLen)}
	}
	if !usernameRe.MatchString(c.Username) {
		return &ValidationError{Field: "username", Reason: "contains characters outside [A-Za-z0-9._-]"}
	}
	if c.Password == "" && len(c.PrivateKey) == 0 {
		return &ValidationError{Field: "credential", Reason: "either a password or a private key is required"}
	}
	return nil
}

// RateKey returns the identifier used for rate limiting session creation:
// one bucket per (hostname, username) pair.
func (c ConnectionConfig) RateKey() string {
	return c.Username + "@" + c.Host
}
