// Package helpers holds shared test fixtures.
package helpers

import (
	"io"
	"log/slog"
	"testing"

	"github.com/xiaot623/quorum/internal/repository"
)

// NewTestSQLiteStore returns a seeded in-memory store closed at test cleanup.
func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:", DiscardLogger())
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
