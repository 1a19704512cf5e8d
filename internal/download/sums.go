package download

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Sums maps archive file names to lowercase hex SHA-256 digests.
type Sums map[string]string

// ParseSums parses a SHA256SUMS manifest ("<hex>  <file name>" per line).
// Lines that do not look like entries are ignored.
func ParseSums(r io.Reader) (Sums, error) {
	sums := Sums{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || len(fields[0]) != sha256.Size*2 {
			continue
		}
		if _, err := hex.DecodeString(fields[0]); err != nil {
			continue
		}
		// "*" marks binary mode in sha256sum output
		name := strings.TrimPrefix(fields[1], "*")
		sums[name] = strings.ToLower(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checksum manifest: %w", err)
	}
	return sums, nil
}

// Verify checks the SHA-256 of the file at path against the manifest entry
// for name.
func (s Sums) Verify(name, path string) error {
	want, ok := s[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChecksum, name)
	}
	got, err := fileSHA256(path)
	if err != nil {
		return err
	}
	if got != want {
		return &ChecksumError{File: name, Want: want, Got: got}
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
