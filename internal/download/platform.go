package download

import (
	"fmt"

	"github.com/mvp-joe/nodefixture/internal/version"
)

// ArchiveName returns the release archive file name for v on goos/goarch.
func ArchiveName(v version.Version, goos, goarch string) (string, error) {
	suffix, err := platformSuffix(v, goos, goarch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("bitcoin-%s-%s", v, suffix), nil
}

func platformSuffix(v version.Version, goos, goarch string) (string, error) {
	switch goos {
	case "linux":
		switch goarch {
		case "amd64":
			return "x86_64-linux-gnu.tar.gz", nil
		case "arm64":
			return "aarch64-linux-gnu.tar.gz", nil
		case "arm":
			return "arm-linux-gnueabihf.tar.gz", nil
		}
	case "darwin":
		if !v.UsesAppleDarwinArchives() {
			if goarch == "amd64" {
				return "osx64.tar.gz", nil
			}
			break
		}
		switch goarch {
		case "amd64":
			return "x86_64-apple-darwin.tar.gz", nil
		case "arm64":
			return "arm64-apple-darwin.tar.gz", nil
		}
	case "windows":
		if goarch == "amd64" {
			return "win64.zip", nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s for %s", ErrUnsupportedPlatform, goos, goarch, v)
}

// ReleaseDir returns the path of the release directory below the download
// endpoint. Release candidates live in a test.<rc> subdirectory.
func ReleaseDir(v version.Version) string {
	final := v
	final.Pre = ""
	dir := "bitcoin-core-" + final.String()
	if v.Pre != "" {
		dir += "/test." + v.Pre
	}
	return dir
}

// ExecutableName returns the daemon file name for goos.
func ExecutableName(goos string) string {
	if goos == "windows" {
		return "bitcoind.exe"
	}
	return "bitcoind"
}
