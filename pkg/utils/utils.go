// Package utils holds the small helpers shared across packages.
package utils

import (
	"io"
	"os"
	"strconv"
)

// Env returns the environment variable key, or def when unset or empty.
func Env(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// EnvInt returns the environment variable key as a positive integer, or def
// when unset or not a positive integer.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// DrainAndClose drains and closes an HTTP response body so the transport can
// reuse the connection.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}
