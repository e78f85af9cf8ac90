package auth

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// LoadPassword reads the enrollment password from the given file. An
// absent or too-short password yields ("", nil) so the caller can fall
// back to a generated one.
func LoadPassword(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open password file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return "", scanner.Err()
	}

	pass := strings.TrimRight(scanner.Text(), "\r\n")
	if len(pass) <= 2 {
		return "", nil
	}
	return pass, nil
}

// GeneratePassword mints a random enrollment password for the lifetime of
// the process when no password file is present.
func GeneratePassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CheckPassword compares the request password byte-for-byte against the
// configured one. An empty configured password disables the check.
func CheckPassword(configured, presented string) error {
	if configured == "" {
		return nil
	}
	if configured != presented {
		return ErrPasswordMismatch
	}
	return nil
}
