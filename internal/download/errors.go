package download

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform indicates no release archive exists for the host.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrNoChecksum indicates the manifest has no entry for the archive.
	ErrNoChecksum = errors.New("no checksum for archive")

	// ErrNotFound indicates the endpoint answered 404.
	ErrNotFound = errors.New("not found")

	// ErrNoExecutable indicates the archive does not contain bitcoind.
	ErrNoExecutable = errors.New("archive does not contain bitcoind")

	// ErrNoVersion indicates Options.Version was not set.
	ErrNoVersion = errors.New("version is required")
)

// ChecksumError reports an archive whose digest does not match the manifest.
type ChecksumError struct {
	File string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.File, e.Want, e.Got)
}
