package repository

import "context"

// ExecRaw runs a statement directly against the store's database.
func ExecRaw(s *SQLiteStore, query string) error {
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}
