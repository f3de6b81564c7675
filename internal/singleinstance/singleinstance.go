// Package singleinstance keeps two servers from opening the same database.
//
// The lock is keyed by the database path, so separate databases on one host
// can each have their own server.
package singleinstance

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/graaaaa/activity-telemetry/internal/appinfo"
)

// lockKey returns a stable identifier for dbPath.
func lockKey(dbPath string) (string, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	if filepath.Separator == '\\' {
		abs = strings.ToLower(abs)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:8]), nil
}

// LockPath returns the lock file path for dbPath.
func LockPath(dbPath string) string {
	return dbPath + appinfo.LockSuffix
}
