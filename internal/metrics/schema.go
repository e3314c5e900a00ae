package metrics

import (
	"database/sql"

	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/logger"
)

const (
	SchemaVersion = 1

	// SQL statements derived from schema
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS evaluations (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp       INTEGER NOT NULL,
	       rate_current    REAL NOT NULL,
	       rate_target     INTEGER NOT NULL CHECK (typeof(rate_target) = 'integer'),
	       drop_rate       REAL NOT NULL CHECK (drop_rate BETWEEN 0 AND 1),
	       cpu_usage       REAL NOT NULL,
	       gpu_usage       REAL NOT NULL,
	       memory_pressure REAL NOT NULL,
	       battery_level   REAL NOT NULL,
	       plugged_in      INTEGER NOT NULL CHECK (plugged_in IN (0, 1)),
	       thermal_state   INTEGER NOT NULL CHECK (thermal_state BETWEEN 0 AND 3),
	       complexity      INTEGER NOT NULL CHECK (complexity BETWEEN 0 AND 4),
	       automatic       INTEGER NOT NULL CHECK (automatic IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS evaluations_timestamp ON evaluations (timestamp);
	   CREATE TABLE IF NOT EXISTS adaptations (
	       id        TEXT PRIMARY KEY,
	       timestamp INTEGER NOT NULL,
	       from_rate INTEGER NOT NULL CHECK (typeof(from_rate) = 'integer'),
	       to_rate   INTEGER NOT NULL CHECK (typeof(to_rate) = 'integer'),
	       reason    TEXT NOT NULL
	   );`

	insertEvaluationSQL = `
    INSERT INTO evaluations (
        timestamp,
        rate_current, rate_target, drop_rate,
        cpu_usage, gpu_usage, memory_pressure,
        battery_level, plugged_in, thermal_state,
        complexity, automatic
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertAdaptationSQL = `
    INSERT OR IGNORE INTO adaptations (
        id, timestamp, from_rate, to_rate, reason
    ) VALUES (?, ?, ?, ?, ?)`

	selectAdaptationsSQL = `
    SELECT id, timestamp, from_rate, to_rate, reason
    FROM adaptations
    ORDER BY timestamp DESC
    LIMIT ?`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				// Only log if it's not the "already committed" error
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	// Execute schema creation
	log.Debug().Str("sql", createTablesSQL).Msg("Executing SQL statement")
	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	log.Debug().Msg("Recording schema version...")
	// Record schema version
	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	log.Debug().Msg("Committing transaction...")
	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}

// GetInsertEvaluationSQL returns the SQL to insert an evaluation row
func GetInsertEvaluationSQL() string {
	return insertEvaluationSQL
}

// GetInsertAdaptationSQL returns the SQL to insert an adaptation row
func GetInsertAdaptationSQL() string {
	return insertAdaptationSQL
}
