package eventstore

import "context"

// Stats totals the row counts across the three top-level tables.
type Stats struct {
	Events     int
	Sessions   int
	Workspaces int
}

// Stats returns totals of events, sessions, and workspaces.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.Events); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&st.Sessions); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspaces`).Scan(&st.Workspaces); err != nil {
		return st, err
	}
	return st, nil
}
