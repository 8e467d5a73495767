package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	watchtracker "github.com/httprunner/WatchTracker"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	defaultDBDirName  = ".watchtracker"
	defaultDBFileName = "sightings.sqlite"
	historyTable      = "sightings"
	latestTable       = "latest_sightings"
	maxBusyRetries    = 3
)

var sightingColumns = []string{
	"DeviceID",
	"Latitude",
	"Longitude",
	"Accuracy",
	"Battery",
	"Speed",
	"PositionType",
	"TakenAt",
	"SeenAt",
	"ProviderUUID",
	"Attributes",
}

// SQLiteSink appends every sighting to a history table and keeps the
// latest one per device in a second table.
type SQLiteSink struct {
	db         *sql.DB
	path       string
	insertStmt *sql.Stmt
	upsertStmt *sql.Stmt
	mu         sync.Mutex
}

// ResolveDatabasePath returns custom when set, otherwise
// ~/.watchtracker/sightings.sqlite. The parent directory is created.
func ResolveDatabasePath(custom string) (string, error) {
	if custom = strings.TrimSpace(custom); custom != "" {
		if err := ensureDir(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "registry: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

// NewSQLiteSink opens (and migrates) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	dbPath, err := ResolveDatabasePath(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "registry: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	insertStmt, err := db.Prepare(buildInsertStatement(historyTable, false))
	if err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "registry: prepare sqlite insert failed")
	}
	upsertStmt, err := db.Prepare(buildInsertStatement(latestTable, true))
	if err != nil {
		insertStmt.Close()
		db.Close()
		return nil, pkgerrors.Wrap(err, "registry: prepare sqlite upsert failed")
	}
	log.Debug().Str("path", dbPath).Msg("registry: sqlite sink ready")
	return &SQLiteSink{db: db, path: dbPath, insertStmt: insertStmt, upsertStmt: upsertStmt}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=60000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "registry: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	columns := `DeviceID TEXT NOT NULL,
			Latitude REAL NOT NULL,
			Longitude REAL NOT NULL,
			Accuracy REAL,
			Battery REAL,
			Speed REAL,
			PositionType TEXT,
			TakenAt TEXT,
			SeenAt INTEGER NOT NULL,
			ProviderUUID TEXT,
			Attributes TEXT NOT NULL`
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			%s
		)`, quoteIdent(historyTable), columns),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (DeviceID, SeenAt)`,
			quoteIdent(historyTable+"_device_seen"), quoteIdent(historyTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s,
			PRIMARY KEY (DeviceID)
		)`, quoteIdent(latestTable), columns),
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "registry: prepare sqlite schema failed")
		}
	}
	return nil
}

func buildInsertStatement(table string, upsert bool) string {
	quoted := make([]string, len(sightingColumns))
	placeholders := make([]string, len(sightingColumns))
	for i, col := range sightingColumns {
		quoted[i] = quoteIdent(col)
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if !upsert {
		return stmt
	}
	assignments := make([]string, 0, len(sightingColumns)-1)
	for _, col := range sightingColumns[1:] {
		assignments = append(assignments, fmt.Sprintf("%s=excluded.%s", quoteIdent(col), quoteIdent(col)))
	}
	return stmt + fmt.Sprintf(` ON CONFLICT(%s) DO UPDATE SET %s`, quoteIdent("DeviceID"), strings.Join(assignments, ", "))
}

func (s *SQLiteSink) See(ctx context.Context, sighting watchtracker.Sighting) error {
	if s == nil || s.db == nil {
		return pkgerrors.New("registry: sqlite sink nil")
	}
	args, err := sightingArgs(sighting)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 1; ; attempt++ {
		err = s.write(ctx, args)
		if !isSQLiteBusy(err) || attempt >= maxBusyRetries {
			return err
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("registry: sqlite busy, retrying")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
}

func (s *SQLiteSink) write(ctx context.Context, args []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "registry: begin sqlite tx failed")
	}
	if _, err := tx.StmtContext(ctx, s.insertStmt).ExecContext(ctx, args...); err != nil {
		tx.Rollback()
		return pkgerrors.Wrap(err, "registry: insert sighting failed")
	}
	if _, err := tx.StmtContext(ctx, s.upsertStmt).ExecContext(ctx, args...); err != nil {
		tx.Rollback()
		return pkgerrors.Wrap(err, "registry: upsert latest sighting failed")
	}
	return pkgerrors.Wrap(tx.Commit(), "registry: commit sighting failed")
}

func sightingArgs(s watchtracker.Sighting) ([]any, error) {
	attrs, err := json.Marshal(s.Attributes())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "registry: marshal attributes failed")
	}
	return []any{
		s.DeviceID,
		s.Position.Latitude,
		s.Position.Longitude,
		nullableFloat(s.Position.Accuracy),
		nullableFloat(s.Position.Battery),
		nullableFloat(s.Position.Speed),
		s.Position.PositionType,
		s.Position.Updated,
		s.SeenAt.UnixMilli(),
		s.ProviderUUID,
		string(attrs),
	}, nil
}

// LatestSighting returns the most recent sighting stored for deviceID.
func (s *SQLiteSink) LatestSighting(ctx context.Context, deviceID string) (*watchtracker.Sighting, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE DeviceID = ?`, selectColumns(), quoteIdent(latestTable))
	row := s.db.QueryRowContext(ctx, query, strings.TrimSpace(deviceID))
	sighting, err := scanSighting(row)
	if pkgerrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sighting, err
}

// History returns up to limit sightings for deviceID, newest first.
func (s *SQLiteSink) History(ctx context.Context, deviceID string, limit int) ([]watchtracker.Sighting, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE DeviceID = ? ORDER BY SeenAt DESC, id DESC LIMIT ?`,
		selectColumns(), quoteIdent(historyTable))
	rows, err := s.db.QueryContext(ctx, query, strings.TrimSpace(deviceID), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "registry: query sighting history failed")
	}
	defer rows.Close()
	var out []watchtracker.Sighting
	for rows.Next() {
		sighting, err := scanSighting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sighting)
	}
	return out, pkgerrors.Wrap(rows.Err(), "registry: iterate sighting history failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSighting(row rowScanner) (*watchtracker.Sighting, error) {
	var (
		s                        watchtracker.Sighting
		accuracy, battery, speed sql.NullFloat64
		positionType, takenAt    sql.NullString
		providerUUID             sql.NullString
		seenAt                   int64
		attrs                    string
	)
	if err := row.Scan(&s.DeviceID, &s.Position.Latitude, &s.Position.Longitude,
		&accuracy, &battery, &speed, &positionType, &takenAt, &seenAt, &providerUUID, &attrs); err != nil {
		if pkgerrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, "registry: scan sighting failed")
	}
	s.Position.Accuracy = floatPtr(accuracy)
	s.Position.Battery = floatPtr(battery)
	s.Position.Speed = floatPtr(speed)
	s.Position.PositionType = positionType.String
	s.Position.Updated = takenAt.String
	s.SeenAt = time.UnixMilli(seenAt).UTC()
	s.ProviderUUID = providerUUID.String
	return &s, nil
}

func selectColumns() string {
	quoted := make([]string, len(sightingColumns))
	for i, col := range sightingColumns {
		quoted[i] = quoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}

func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if s.upsertStmt != nil {
		s.upsertStmt.Close()
	}
	return s.db.Close()
}

func (s *SQLiteSink) Name() string {
	if s == nil || s.path == "" {
		return "sqlite"
	}
	return "sqlite:" + s.path
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func quoteIdent(name string) string {
	escaped := strings.ReplaceAll(strings.TrimSpace(name), "\"", "\"\"")
	return fmt.Sprintf("\"%s\"", escaped)
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "registry: create dir %s failed", dir)
	}
	return nil
}
