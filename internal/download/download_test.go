package download

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/nodefixture/internal/version"
)

var v22 = version.MustParse("22.0")

const fakeBinary = "#!/bin/sh\necho fake bitcoind\n"

// createTestTarGz builds a release-shaped archive holding bin/bitcoind plus
// files that must not be extracted.
func createTestTarGz(t *testing.T, root string, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: root + "/", Typeflag: tar.TypeDir, Mode: 0755}))
	for name, content := range files {
		hdr := &tar.Header{
			Name:     root + "/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0755,
			Size:     int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func createTestZip(t *testing.T, root string, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(root + "/" + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func sumsFor(name string, data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%s  %s\n", hex.EncodeToString(h[:]), name)
}

type releaseServer struct {
	*httptest.Server
	requests atomic.Int32
	failures atomic.Int32
}

// newReleaseServer serves one archive and its SHA256SUMS in the release layout.
func newReleaseServer(t *testing.T, v version.Version, archive string, data []byte, sums string) *releaseServer {
	t.Helper()

	rs := &releaseServer{}
	dir := "/" + ReleaseDir(v) + "/"
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.requests.Add(1)
		if rs.failures.Load() > 0 {
			rs.failures.Add(-1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case dir + archive:
			w.Write(data)
		case dir + SumsFile:
			w.Write([]byte(sums))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func linuxOpts(t *testing.T, endpoint string) Options {
	return Options{
		Version:  v22,
		CacheDir: t.TempDir(),
		Endpoint: endpoint,
		Backoff:  time.Millisecond,
		GOOS:     "linux",
		GOARCH:   "amd64",
	}
}

func TestEnsure_DownloadsAndCaches(t *testing.T) {
	t.Parallel()

	archive := "bitcoin-22.0-x86_64-linux-gnu.tar.gz"
	data := createTestTarGz(t, "bitcoin-22.0", map[string]string{
		"bin/bitcoind":    fakeBinary,
		"bin/bitcoin-cli": "cli",
		"share/README.md": "readme",
	})
	srv := newReleaseServer(t, v22, archive, data, sumsFor("other.tar.gz", []byte("x"))+sumsFor(archive, data))

	opts := linuxOpts(t, srv.URL)
	var progress bytes.Buffer
	opts.Progress = &progress

	path, err := Ensure(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.CacheDir, "bitcoin-22.0", "bin", "bitcoind"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fakeBinary, string(content))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "binary should be executable")

	// Only bitcoind is extracted.
	_, err = os.Stat(filepath.Join(filepath.Dir(path), "bitcoin-cli"))
	assert.True(t, os.IsNotExist(err))

	assert.NotEmpty(t, progress.String())

	// Cached: no further requests.
	before := srv.requests.Load()
	again, err := Ensure(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, before, srv.requests.Load())
}

func TestEnsure_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	archive := "bitcoin-22.0-x86_64-linux-gnu.tar.gz"
	data := createTestTarGz(t, "bitcoin-22.0", map[string]string{"bin/bitcoind": fakeBinary})
	srv := newReleaseServer(t, v22, archive, data, sumsFor(archive, []byte("tampered")))

	opts := linuxOpts(t, srv.URL)
	_, err := Ensure(context.Background(), opts)
	require.Error(t, err)

	var sumErr *ChecksumError
	require.True(t, errors.As(err, &sumErr))
	assert.Equal(t, archive, sumErr.File)

	_, err = os.Stat(ExecutablePath(opts.CacheDir, v22, "linux"))
	assert.True(t, os.IsNotExist(err), "nothing installed on mismatch")
}

func TestEnsure_MissingChecksumEntry(t *testing.T) {
	t.Parallel()

	archive := "bitcoin-22.0-x86_64-linux-gnu.tar.gz"
	data := createTestTarGz(t, "bitcoin-22.0", map[string]string{"bin/bitcoind": fakeBinary})
	srv := newReleaseServer(t, v22, archive, data, sumsFor("unrelated.tar.gz", data))

	_, err := Ensure(context.Background(), linuxOpts(t, srv.URL))
	assert.ErrorIs(t, err, ErrNoChecksum)
}

func TestEnsure_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	archive := "bitcoin-22.0-x86_64-linux-gnu.tar.gz"
	data := createTestTarGz(t, "bitcoin-22.0", map[string]string{"bin/bitcoind": fakeBinary})
	srv := newReleaseServer(t, v22, archive, data, sumsFor(archive, data))
	srv.failures.Store(2)

	_, err := Ensure(context.Background(), linuxOpts(t, srv.URL))
	require.NoError(t, err)
}

func TestEnsure_NotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	srv := newReleaseServer(t, version.MustParse("99.0"), "none", nil, "")

	_, err := Ensure(context.Background(), linuxOpts(t, srv.URL))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), srv.requests.Load())
}

func TestEnsure_OfflineFiles(t *testing.T) {
	t.Parallel()

	archive := "bitcoin-22.0-x86_64-linux-gnu.tar.gz"
	data := createTestTarGz(t, "bitcoin-22.0", map[string]string{"bin/bitcoind": fakeBinary})

	dir := t.TempDir()
	tarball := filepath.Join(dir, "local.tar.gz")
	require.NoError(t, os.WriteFile(tarball, data, 0644))
	sums := filepath.Join(dir, "SHA256SUMS")
	require.NoError(t, os.WriteFile(sums, []byte(sumsFor(archive, data)), 0644))

	opts := linuxOpts(t, "http://127.0.0.1:1")
	opts.TarballFile = tarball
	opts.SumsFile = sums

	path, err := Ensure(context.Background(), opts)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fakeBinary, string(content))
}

func TestEnsure_WindowsZip(t *testing.T) {
	t.Parallel()

	archive := "bitcoin-22.0-win64.zip"
	data := createTestZip(t, "bitcoin-22.0", map[string]string{
		"bin/bitcoind.exe":   "MZ fake",
		"bin/bitcoin-qt.exe": "qt",
	})
	srv := newReleaseServer(t, v22, archive, data, sumsFor(archive, data))

	opts := linuxOpts(t, srv.URL)
	opts.GOOS = "windows"

	path, err := Ensure(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "bitcoind.exe", filepath.Base(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "MZ fake", string(content))
}

func TestEnsure_ArchiveWithoutExecutable(t *testing.T) {
	t.Parallel()

	archive := "bitcoin-22.0-x86_64-linux-gnu.tar.gz"
	data := createTestTarGz(t, "bitcoin-22.0", map[string]string{"bitcoind": "not in bin"})
	srv := newReleaseServer(t, v22, archive, data, sumsFor(archive, data))

	_, err := Ensure(context.Background(), linuxOpts(t, srv.URL))
	assert.ErrorIs(t, err, ErrNoExecutable)
}

func TestEnsure_RequiresVersion(t *testing.T) {
	t.Parallel()

	_, err := Ensure(context.Background(), Options{CacheDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoVersion)
}

func TestEnsure_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := newReleaseServer(t, v22, "x", nil, "")
	srv.failures.Store(100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := linuxOpts(t, srv.URL)
	_, err := Ensure(ctx, opts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArchiveName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version string
		goos    string
		goarch  string
		want    string
	}{
		{"22.0", "linux", "amd64", "bitcoin-22.0-x86_64-linux-gnu.tar.gz"},
		{"0.21.1", "linux", "arm64", "bitcoin-0.21.1-aarch64-linux-gnu.tar.gz"},
		{"22.0", "darwin", "amd64", "bitcoin-22.0-osx64.tar.gz"},
		{"25.1", "darwin", "arm64", "bitcoin-25.1-arm64-apple-darwin.tar.gz"},
		{"25.1", "darwin", "amd64", "bitcoin-25.1-x86_64-apple-darwin.tar.gz"},
		{"26.0rc1", "windows", "amd64", "bitcoin-26.0rc1-win64.zip"},
	}

	for _, tt := range tests {
		t.Run(tt.version+"/"+tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := ArchiveName(version.MustParse(tt.version), tt.goos, tt.goarch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArchiveName_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := ArchiveName(v22, "darwin", "arm64")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)

	_, err = ArchiveName(v22, "plan9", "amd64")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestReleaseDirAndURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bitcoin-core-22.0", ReleaseDir(v22))
	assert.Equal(t, "bitcoin-core-26.0/test.rc1", ReleaseDir(version.MustParse("26.0rc1")))
	assert.Equal(t,
		"https://bitcoincore.org/bin/bitcoin-core-22.0/SHA256SUMS",
		URL(DefaultEndpoint+"/", v22, SumsFile))
}

func TestParseSums(t *testing.T) {
	t.Parallel()

	hash := strings.Repeat("ab", 32)
	manifest := hash + "  bitcoin-22.0-x86_64-linux-gnu.tar.gz\n" +
		"-----BEGIN PGP SIGNED MESSAGE-----\n" +
		strings.ToUpper(hash) + " *bitcoin-22.0-win64.zip\n" +
		"nothex  file\n"

	sums, err := ParseSums(strings.NewReader(manifest))
	require.NoError(t, err)
	assert.Len(t, sums, 2)
	assert.Equal(t, hash, sums["bitcoin-22.0-x86_64-linux-gnu.tar.gz"])
	assert.Equal(t, hash, sums["bitcoin-22.0-win64.zip"])
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv(EndpointEnv, "http://mirror.local")
	t.Setenv(TarballFileEnv, "/tmp/a.tar.gz")
	t.Setenv(SumsFileEnv, "/tmp/SHA256SUMS")

	opts := Options{Endpoint: "http://explicit"}.FromEnv()
	assert.Equal(t, "http://explicit", opts.Endpoint)
	assert.Equal(t, "/tmp/a.tar.gz", opts.TarballFile)
	assert.Equal(t, "/tmp/SHA256SUMS", opts.SumsFile)
}
