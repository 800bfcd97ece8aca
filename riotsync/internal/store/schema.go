package store

import "database/sql"

// Schema creates the document table. ingested_at and first_seen_at are Unix
// milliseconds. The pass-through columns are declared without a type so SQLite
// applies no affinity and keeps feed values as they came.
const Schema = `
CREATE TABLE IF NOT EXISTS riot_ips (
    ip            TEXT NOT NULL CHECK (length(ip) > 0),
    name,
    category,
    description,
    last_updated,
    ingested_at   INTEGER NOT NULL,
    first_seen_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_riot_ips_category ON riot_ips(category);
`

// MigrationUniqueIP enforces one document per ip. Upserts target this index.
const MigrationUniqueIP = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_riot_ips_ip ON riot_ips(ip);
`

// ApplySchema creates the table and its indexes. Idempotent.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return err
	}
	if _, err := db.Exec(MigrationUniqueIP); err != nil {
		return err
	}
	return nil
}
