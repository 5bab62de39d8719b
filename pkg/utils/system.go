// pkg/utils/system.go

package utils

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/alexmullins/zip"
	"github.com/cockroachdb/errors"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename makes s safe to use as one path component. IPv6 colons become underscores.
func SanitizeFilename(s string) string {
	s = unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "unnamed"
	}
	return s
}

// CompressWithPassword compresses a file with password protection
func CompressWithPassword(sourcePath string, password string) (string, error) {
	if password == "" {
		return "", errors.New("refusing to create an archive without a password")
	}
	if _, err := os.Stat(sourcePath); os.IsNotExist(err) {
		return "", errors.Newf("source file not found: %s", sourcePath)
	}

	zipPath := sourcePath + ".zip"

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to create zip file")
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)

	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		zipWriter.Close()
		return "", errors.Wrap(err, "failed to open source file")
	}
	defer sourceFile.Close()

	writer, err := zipWriter.Encrypt(filepath.Base(sourcePath), password)
	if err != nil {
		zipWriter.Close()
		return "", errors.Wrap(err, "failed to create encrypted entry")
	}

	if _, err := io.Copy(writer, sourceFile); err != nil {
		zipWriter.Close()
		return "", errors.Wrap(err, "failed to write to zip")
	}

	// Close flushes the central directory
	if err := zipWriter.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finalize zip")
	}

	return zipPath, nil
}
