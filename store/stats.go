package store

// Stats sums the ledger over [fromTs, toTs). An empty window yields
// all zeros; repeated calls over an unchanged ledger return identical
// results.
func (s *Store) Stats(fromTs, toTs int64) (StatsSnapshot, error) {
	var snap StatsSnapshot

	row := s.db.Model(&UsageRecord{}).
		Select(
			"COUNT(*)",
			"COALESCE(SUM(word_count), 0)",
			"COALESCE(SUM(duration_ms), 0)",
			"COALESCE(SUM(cost_cents), 0)",
		).
		Where("timestamp >= ? AND timestamp < ?", fromTs, toTs).
		Row()

	if err := row.Scan(
		&snap.TotalTranscriptions,
		&snap.TotalWords,
		&snap.TotalDurationMs,
		&snap.TotalCostCents,
	); err != nil {
		return StatsSnapshot{}, err
	}
	return snap, nil
}
