package download

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// extractExecutable copies the daemon binary named exe out of the archive at
// archivePath into dest. Only an entry named bin/<exe> is considered, so
// nothing else from the archive touches the filesystem.
func extractExecutable(archivePath string, isZip bool, exe, dest string) error {
	if isZip {
		return extractFromZip(archivePath, exe, dest)
	}
	return extractFromTarGz(archivePath, exe, dest)
}

func isExecutableEntry(name, exe string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Base(name) == exe && path.Base(path.Dir(name)) == "bin"
}

func extractFromTarGz(archivePath, exe, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}
		if header.Typeflag != tar.TypeReg || !isExecutableEntry(header.Name, exe) {
			continue
		}
		return writeExecutable(dest, tr)
	}
	return ErrNoExecutable
}

func extractFromZip(archivePath, exe, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || !isExecutableEntry(f.Name, exe) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open file in archive: %w", err)
		}
		defer rc.Close()
		return writeExecutable(dest, rc)
	}
	return ErrNoExecutable
}

func writeExecutable(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file %s: %w", dest, err)
	}
	return f.Close()
}
