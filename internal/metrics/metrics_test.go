package metrics

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/framectl/internal/adaptation"
	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/logger"
	"codeberg.org/mutker/framectl/internal/policy"
	"codeberg.org/mutker/framectl/internal/sampler"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DBPath:       filepath.Join(t.TempDir(), "db", "metrics.db"),
		Enabled:      true,
		BatchSize:    2,
		BatchTimeout: 0,
	}
}

func countRows(t *testing.T, path, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func sampleMetrics() policy.FrameRateMetrics {
	return policy.FrameRateMetrics{
		CurrentRate:       59.2,
		TargetRate:        60,
		CPUUsage:          35,
		GPUUsage:          20,
		MemoryPressure:    0.4,
		ThermalState:      sampler.ThermalFair,
		BatteryLevel:      0.7,
		PluggedIn:         false,
		ContentComplexity: policy.ComplexityHigh,
		FrameDropRate:     0.01,
	}
}

func TestDisabledServiceIsNoop(t *testing.T) {
	c, err := NewService(DefaultConfig(), logger.Component("metrics"))
	require.NoError(t, err)

	require.NoError(t, c.Record(context.Background(), &MetricsSnapshot{}))
	records, err := c.Adaptations(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	require.NoError(t, c.Close())
}

func TestValidate(t *testing.T) {
	err := Config{Enabled: true}.Validate()
	assert.True(t, errors.HasCode(err, ErrInvalidDBPath))

	err = Config{BatchSize: -1}.Validate()
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))

	_, err = NewService(Config{Enabled: true}, logger.Component("metrics"))
	assert.Error(t, err)
}

func TestRecordBatches(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewService(cfg, logger.Component("metrics"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Record(ctx, SnapshotFrom(sampleMetrics(), true, t0)))
	assert.Zero(t, countRows(t, cfg.DBPath, "evaluations"))

	require.NoError(t, c.Record(ctx, SnapshotFrom(sampleMetrics(), true, t0.Add(time.Second))))
	assert.Equal(t, 2, countRows(t, cfg.DBPath, "evaluations"))

	require.NoError(t, c.Record(ctx, SnapshotFrom(sampleMetrics(), false, t0.Add(2*time.Second))))
	require.NoError(t, c.Close())
	assert.Equal(t, 3, countRows(t, cfg.DBPath, "evaluations"))
}

func TestRecordRejectsNil(t *testing.T) {
	c, err := NewService(testConfig(t), logger.Component("metrics"))
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, errors.HasCode(c.Record(context.Background(), nil), ErrInvalidMetrics))
	assert.True(t, errors.HasCode(c.RecordAdaptation(context.Background(), nil), ErrInvalidMetrics))
}

func TestAdaptationsRoundTrip(t *testing.T) {
	c, err := NewService(testConfig(t), logger.Component("metrics"))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for i, to := range []int{90, 60, 30} {
		ev := adaptation.Event{
			ID:        uuid.New(),
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			FromRate:  120,
			ToRate:    to,
			Reason:    "Thermal throttling (serious)",
		}
		require.NoError(t, c.RecordAdaptation(ctx, AdaptationFrom(ev)))
	}

	records, err := c.Adaptations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 60, records[0].ToRate)
	assert.Equal(t, 30, records[1].ToRate)
	assert.Equal(t, t0.Add(2*time.Second), records[1].Timestamp)
	assert.Equal(t, "Thermal throttling (serious)", records[1].Reason)

	none, err := c.Adaptations(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSchemaMismatchCreatesBackup(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755))

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	c, err := NewService(cfg, logger.Component("metrics"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	backups, err := filepath.Glob(filepath.Join(cfg.backupDir(), "metrics_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	db, err = sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()
	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestSnapshotFrom(t *testing.T) {
	s := SnapshotFrom(sampleMetrics(), true, t0)

	assert.Equal(t, t0, s.Timestamp)
	assert.Equal(t, 60, s.Rate.Target)
	assert.Equal(t, 1, s.Power.Thermal)
	assert.Equal(t, 3, s.State.Complexity)
	assert.True(t, s.State.Automatic)
	assert.False(t, s.Power.PluggedIn)
}

func TestPruneBackupsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	stamps := []string{
		"20261017T100000.000Z", "20261017T090000.000Z", "20261017T110000.000Z",
		"20261016T230000.000Z", "20261017T120000.000Z", "20261017T130000.000Z",
		"20261017T140000.000Z",
	}
	for i, s := range stamps {
		name := filepath.Join(dir, "metrics_v"+string(rune('1'+i%3))+"_"+s+".db")
		require.NoError(t, os.WriteFile(name, nil, 0o600))
	}

	pruneBackups(dir, logger.Component("metrics"))

	left, err := filepath.Glob(filepath.Join(dir, "metrics_v*_*.db"))
	require.NoError(t, err)
	assert.Len(t, left, maxBackups)
	for _, path := range left {
		assert.NotContains(t, path, "20261016T230000")
		assert.NotContains(t, path, "20261017T090000")
	}
}
