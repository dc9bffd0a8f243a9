package notify

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/beaconkit/beacon/internal/errs"
)

// Mapping is one persisted local↔platform notification id pair.
type Mapping struct {
	LocalID    uint64 `db:"local_id"`
	PlatformID uint32 `db:"platform_id"`
	Platform   string `db:"platform"`
	CreatedAt  uint64 `db:"created_at"`
}

const mappingSchema = `
CREATE TABLE IF NOT EXISTS notification_mappings (
	local_id    INTEGER PRIMARY KEY,
	platform_id INTEGER NOT NULL,
	platform    TEXT    NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// MappingStore persists notification id mappings in the local DB file.
type MappingStore struct {
	db *sqlx.DB
}

// OpenMappingStore opens (and migrates) the mapping table in the given
// sqlite database file.
func OpenMappingStore(path string) (*MappingStore, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, errs.PlatformFailure("sqlite open", err)
	}
	if _, err := db.Exec(mappingSchema); err != nil {
		db.Close()
		return nil, errs.PlatformFailure("sqlite migrate", err)
	}
	return &MappingStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *MappingStore) Close() error { return s.db.Close() }

// Insert stores one mapping.
func (s *MappingStore) Insert(m Mapping) error {
	_, err := s.db.NamedExec(`
		INSERT INTO notification_mappings (local_id, platform_id, platform, created_at)
		VALUES (:local_id, :platform_id, :platform, :created_at)`, m)
	if err != nil {
		return errs.PlatformFailure("sqlite insert", err)
	}
	return nil
}

// Lookup resolves a local id to its platform mapping.
func (s *MappingStore) Lookup(localID uint64, platform string) (Mapping, error) {
	var m Mapping
	err := s.db.Get(&m, `
		SELECT local_id, platform_id, platform, created_at
		FROM notification_mappings
		WHERE local_id = ? AND platform = ?`, localID, platform)
	if errors.Is(err, sql.ErrNoRows) {
		return Mapping{}, errs.NotFound("notification mapping")
	}
	if err != nil {
		return Mapping{}, errs.PlatformFailure("sqlite query", err)
	}
	return m, nil
}

// Delete removes a mapping after dismissal.
func (s *MappingStore) Delete(localID uint64) error {
	_, err := s.db.Exec(`DELETE FROM notification_mappings WHERE local_id = ?`, localID)
	if err != nil {
		return errs.PlatformFailure("sqlite delete", err)
	}
	return nil
}

// MaxLocalID returns the highest persisted local id, or zero.
func (s *MappingStore) MaxLocalID() (uint64, error) {
	var max sql.NullInt64
	if err := s.db.Get(&max, `SELECT MAX(local_id) FROM notification_mappings`); err != nil {
		return 0, errs.PlatformFailure("sqlite query", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64), nil
}
