package rpc

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Auth supplies credentials for each request.
type Auth interface {
	Credentials() (user, password string, err error)
}

// CookieFile authenticates with the cookie the daemon writes at startup.
// The file is read on every request, so a client created before the daemon
// wrote it (or after it rotated it on restart) picks up the current value.
type CookieFile string

// Credentials reads and parses the cookie file.
func (c CookieFile) Credentials() (string, string, error) {
	data, err := os.ReadFile(string(c))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("%w: cookie file %s not found", ErrAuthUnavailable, string(c))
		}
		return "", "", fmt.Errorf("failed to read cookie file: %w", err)
	}
	user, password, ok := ParseCookie(string(data))
	if !ok {
		// Partially written cookie; the daemon is still creating it
		return "", "", fmt.Errorf("%w: cookie file %s is incomplete", ErrAuthUnavailable, string(c))
	}
	return user, password, nil
}

// UserPass authenticates with fixed credentials.
type UserPass struct {
	User     string
	Password string
}

// Credentials returns the fixed pair.
func (u UserPass) Credentials() (string, string, error) {
	return u.User, u.Password, nil
}

// ParseCookie splits "user:password" at the first colon.
func ParseCookie(content string) (user, password string, ok bool) {
	content = strings.TrimRight(content, "\r\n")
	user, password, ok = strings.Cut(content, ":")
	if !ok || user == "" {
		return "", "", false
	}
	return user, password, true
}
