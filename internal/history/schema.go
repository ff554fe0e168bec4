package history

// allTables returns the DDL for every table the store needs.
func allTables() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS command_history (
			created_at DateTime64(3),
			satellite_id String,
			session_id String,
			transcription String,
			response String,
			success Bool,
			processing_ms Int64
		) ENGINE = MergeTree()
		ORDER BY (satellite_id, created_at)
		TTL toDateTime(created_at) + INTERVAL 90 DAY`,
	}
}
