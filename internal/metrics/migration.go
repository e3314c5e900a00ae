package metrics

import (
	"cmp"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/logger"
)

// maxBackups bounds how many pre-migration copies are kept per directory.
const maxBackups = 5

var journalTables = []string{"evaluations", "adaptations", "schema_versions"}

type migrationStep struct {
	Phase  string
	Target string `json:",omitempty"`
	Error  string
}

func stepError(code errors.ErrorCode, phase, target string, err error) error {
	return errors.New().WithData(code, migrationStep{Phase: phase, Target: target, Error: err.Error()})
}

// backupDatabase copies the journal into backupDir with VACUUM INTO and
// prunes the oldest copies beyond maxBackups.
func backupDatabase(db *sql.DB, backupDir string, version int, log logger.Logger) (string, error) {
	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", stepError(ErrSchemaInitFailed, "create_backup_dir", backupDir, err)
	}

	name := fmt.Sprintf("metrics_v%d_%s.db", version, time.Now().UTC().Format("20060102T150405.000Z"))
	path := filepath.Join(backupDir, name)

	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		return "", stepError(ErrSchemaInitFailed, "create_backup", path, err)
	}

	log.Info().
		Str("path", path).
		Int("version", version).
		Msg("Journal backed up before schema reset")

	pruneBackups(backupDir, log)
	return path, nil
}

func pruneBackups(dir string, log logger.Logger) {
	backups, err := filepath.Glob(filepath.Join(dir, "metrics_v*_*.db"))
	if err != nil || len(backups) <= maxBackups {
		return
	}

	// Names embed a sortable UTC timestamp after the version.
	slices.SortFunc(backups, func(a, b string) int {
		return cmp.Compare(stamp(filepath.Base(a)), stamp(filepath.Base(b)))
	})
	for _, old := range backups[:len(backups)-maxBackups] {
		if err := os.Remove(old); err != nil {
			log.Debug().Err(err).Str("path", old).Msg("Failed to prune journal backup")
		}
	}
}

func stamp(name string) string {
	return name[strings.LastIndexByte(name, '_')+1:]
}

// ValidateAndUpdateSchema leaves a current schema alone. An empty database
// gets a fresh schema; any other version is backed up, dropped and
// recreated, since journal rows are not migrated between versions.
func ValidateAndUpdateSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return errors.New().Wrap(ErrSchemaValidationFailed, err)
	}

	if version == SchemaVersion {
		log.Debug().Int("version", version).Msg("Journal schema is current")
		return nil
	}

	if version != 0 {
		log.Warn().
			Int("found", version).
			Int("want", SchemaVersion).
			Msg("Journal schema mismatch, resetting")

		if _, err := backupDatabase(db, backupDir, version, log); err != nil {
			return errors.New().Wrap(ErrSchemaMigrationFailed, err)
		}
	}

	if err := dropTables(db, log); err != nil {
		return err
	}
	return InitSchema(db, log)
}

func dropTables(db *sql.DB, log logger.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.New().Wrap(ErrSchemaMigrationFailed, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Debug().Err(err).Msg("Failed to roll back table drop")
		}
	}()

	for _, table := range journalTables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return stepError(ErrSchemaMigrationFailed, "drop_table", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return stepError(ErrSchemaMigrationFailed, "commit", "", err)
	}
	return nil
}
