package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	defaultFilePragmas   = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	defaultMemoryPragmas = "mode=memory&cache=shared"
	memoryPath           = ":memory:"
)

// FileDSN converts a filesystem path into an on-disk SQLite DSN with sensible
// defaults. The special path ":memory:" yields a shared in-memory database.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	if trimmed == memoryPath {
		return MemoryDSN("swapd"), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// MemoryDSN names a shared in-memory database. Connections using the same
// name see the same data for the lifetime of the process.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?%s", strings.TrimSpace(name), defaultMemoryPragmas)
}
