package store

import (
	"context"
	"fmt"
)

// Bootstrap creates the shared audit-record table. Entity tables are owned
// by the deployment's migrations; the engine only ever assumes `infos`.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.InfoTableSQL()); err != nil {
		return fmt.Errorf("create infos table: %w", err)
	}
	return nil
}
