package convert

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// checksum returns the hex-encoded SHA-256 of data.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fileChecksum computes the checksum of the file at path without loading
// it into memory.
func fileChecksum(path string) (string, error) {
	//nolint:gosec // G304: path is an output this run wrote
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify re-reads o.Path and reports whether it still matches o.SHA256.
// A changed file yields ErrChecksumMismatch.
func Verify(o Output) error {
	sum, err := fileChecksum(o.Path)
	if err != nil {
		return newError("verify", o.Path, ErrWrite, err)
	}
	if sum != o.SHA256 {
		return newError("verify", o.Path, ErrChecksumMismatch, nil)
	}
	return nil
}
