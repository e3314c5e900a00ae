package metrics

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*MetricsSnapshot
	adaptations   []*AdaptationRecord
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func NewRepository(cfg Config, log logger.Logger) (MetricsRepository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// Open database with specific pragmas for better performance and safety
	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	// Validate if schema is current, with backup if needed
	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*MetricsSnapshot, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Start background goroutine for periodic flushing if batching is enabled
	if cfg.BatchSize > 0 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(snapshot *MetricsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, snapshot)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// RecordAdaptation writes through; adaptations are rare and should
// survive a crash.
func (r *repository) RecordAdaptation(record *AdaptationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adaptations = append(r.adaptations, record)

	return r.flush()
}

func (r *repository) Adaptations(ctx context.Context, limit int) ([]AdaptationRecord, error) {
	errFactory := errors.New()

	if limit <= 0 {
		return []AdaptationRecord{}, nil
	}

	rows, err := r.db.QueryContext(ctx, selectAdaptationsSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	records := make([]AdaptationRecord, 0, limit)
	for rows.Next() {
		var (
			rec AdaptationRecord
			ts  int64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.FromRate, &rec.ToRate, &rec.Reason); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		rec.Timestamp = time.UnixMilli(ts).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	// Oldest first, like the in-memory log.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	return records, nil
}

func (r *repository) Close() error {
	var closeErr error

	r.closeOnce.Do(func() {
		// Signal the flusher goroutine to stop
		close(r.shutdownChan)

		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}

		// Wait for the flusher to finish its final flush
		<-r.flushDoneChan

		r.mu.Lock()
		if err := r.flush(); err != nil {
			r.logger.Warn().Err(err).Msg("Final flush failed")
		}
		r.mu.Unlock()

		// Checkpoint WAL and cleanup on close
		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
			r.db.Close()
			return
		}

		if err := r.db.Close(); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "close_database",
				Error: err.Error(),
			})
			return
		}

		r.logger.Info().Msg("Metrics repository closed gracefully")
	})

	return closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes buffered rows in one transaction. Callers hold r.mu.
func (r *repository) flush() error {
	if len(r.buffer) == 0 && len(r.adaptations) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := r.insertEvaluations(tx); err != nil {
		r.rollback(tx)
		return err
	}
	if err := r.insertAdaptations(tx); err != nil {
		r.rollback(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().
		Int("evaluations", len(r.buffer)).
		Int("adaptations", len(r.adaptations)).
		Msg("Flushed metrics to database")
	r.buffer = r.buffer[:0]
	r.adaptations = r.adaptations[:0]

	return nil
}

func (r *repository) insertEvaluations(tx *sql.Tx) error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	stmt, err := tx.Prepare(GetInsertEvaluationSQL())
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, snapshot := range r.buffer {
		values := []interface{}{
			snapshot.Timestamp.UnixMilli(),
			snapshot.Rate.Current,
			int64(snapshot.Rate.Target),
			snapshot.Rate.DropRate,
			snapshot.Load.CPU,
			snapshot.Load.GPU,
			snapshot.Load.Memory,
			snapshot.Power.BatteryLevel,
			int64(boolToInt(snapshot.Power.PluggedIn)),
			int64(snapshot.Power.Thermal),
			int64(snapshot.State.Complexity),
			int64(boolToInt(snapshot.State.Automatic)),
		}

		if _, err := stmt.Exec(values...); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	return nil
}

func (r *repository) insertAdaptations(tx *sql.Tx) error {
	if len(r.adaptations) == 0 {
		return nil
	}

	errFactory := errors.New()

	stmt, err := tx.Prepare(GetInsertAdaptationSQL())
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rec := range r.adaptations {
		if _, err := stmt.Exec(rec.ID, rec.Timestamp.UnixMilli(), int64(rec.FromRate), int64(rec.ToRate), rec.Reason); err != nil {
			r.logger.Error().Err(err).Msg("Failed to insert adaptation")
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	return nil
}

// rollback aborts tx and discards the buffered rows so one bad row does
// not block every later flush.
func (r *repository) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to roll back transaction")
	}

	r.logger.Warn().
		Int("evaluations", len(r.buffer)).
		Int("adaptations", len(r.adaptations)).
		Msg("Discarding unwritten metrics")
	r.buffer = r.buffer[:0]
	r.adaptations = r.adaptations[:0]
}
