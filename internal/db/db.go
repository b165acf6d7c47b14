// Package db records monitoring sessions to sqlite: the calibrated baseline
// and every processing cycle's computed results, for offline review and the
// report tool. The schema is managed by embedded migrations.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/biotrace-data/vitals.monitor/internal/fusion"
)

type DB struct {
	*sql.DB
}

// OpenDB opens the sqlite database without touching the schema; migrations
// manage it. Use NewDB unless you are running migration commands yourself.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Apply essential PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}

// NewDB opens the database and applies all pending migrations.
func NewDB(path string) (*DB, error) {
	database, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		database.Close()
		return nil, err
	}
	if err := database.MigrateUp(migrations); err != nil {
		database.Close()
		return nil, err
	}

	return database, nil
}

// Session is one monitoring run from startup to shutdown.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Notes     string
}

// CreateSession inserts a new open session and returns it.
func (db *DB) CreateSession(notes string) (Session, error) {
	s := Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Notes:     notes,
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, notes) VALUES (?, ?, ?)`,
		s.ID, s.StartedAt, s.Notes,
	)
	if err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}
	return s, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(id string) error {
	res, err := db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no session %s", id)
	}
	return nil
}

// Sessions returns recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT session_id, started_at, ended_at, notes FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s     Session
			ended sql.NullTime
			notes sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.StartedAt, &ended, &notes); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			s.EndedAt = &t
		}
		s.Notes = notes.String
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// LatestSession returns the most recently started session.
func (db *DB) LatestSession() (Session, error) {
	sessions, err := db.Sessions(1)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, sql.ErrNoRows
	}
	return sessions[0], nil
}

// RecordBaseline stores the calibrated baseline for a session. Features the
// calibrator could not compute are stored as NULLs.
func (db *DB) RecordBaseline(sessionID string, b fusion.Baseline) error {
	_, err := db.Exec(
		`INSERT INTO baselines (
			session_id, captured_at,
			ratio_median, ratio_std,
			heart_rate_median, heart_rate_std,
			theta_median, theta_std,
			movement_median, movement_std
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, time.Now().UTC(),
		statsMedian(b.Ratio), statsStd(b.Ratio),
		statsMedian(b.HeartRate), statsStd(b.HeartRate),
		statsMedian(b.Theta), statsStd(b.Theta),
		statsMedian(b.Movement), statsStd(b.Movement),
	)
	if err != nil {
		return fmt.Errorf("recording baseline: %w", err)
	}
	return nil
}

// Baseline returns the newest stored baseline for a session.
func (db *DB) Baseline(sessionID string) (fusion.Baseline, error) {
	row := db.QueryRow(
		`SELECT ratio_median, ratio_std, heart_rate_median, heart_rate_std,
			theta_median, theta_std, movement_median, movement_std
		FROM baselines WHERE session_id = ? ORDER BY captured_at DESC LIMIT 1`,
		sessionID,
	)

	var rm, rs, hm, hs, tm, ts, mm, ms sql.NullFloat64
	if err := row.Scan(&rm, &rs, &hm, &hs, &tm, &ts, &mm, &ms); err != nil {
		return fusion.Baseline{}, err
	}

	return fusion.Baseline{
		Ratio:     scanStats(rm, rs),
		HeartRate: scanStats(hm, hs),
		Theta:     scanStats(tm, ts),
		Movement:  scanStats(mm, ms),
	}, nil
}

// RecordCycle stores one processing cycle's results. Undefined features go
// in as NULLs so the report can tell "missing" from zero.
func (db *DB) RecordCycle(sessionID string, u fusion.Update) error {
	_, err := db.Exec(
		`INSERT INTO cycles (
			session_id, taken_at, state,
			alpha_beta_ratio, heart_rate, theta_power, movement,
			expression_score, eeg_stale, ppg_stale,
			market_trend, suggested_position, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, u.At.UTC(), string(u.State),
		nullable(u.Ratio), nullable(u.HeartRate), nullable(u.Theta), nullable(u.Movement),
		nullable(u.ExpressionScore), u.EEGStale, u.PPGStale,
		string(u.Trend), string(u.Suggestion), u.Confidence,
	)
	if err != nil {
		return fmt.Errorf("recording cycle: %w", err)
	}
	return nil
}

// Cycles returns a session's recorded cycles in time order, oldest first.
// A limit of zero returns everything.
func (db *DB) Cycles(sessionID string, limit int) ([]fusion.Update, error) {
	query := `SELECT taken_at, state, alpha_beta_ratio, heart_rate, theta_power,
		movement, expression_score, eeg_stale, ppg_stale,
		market_trend, suggested_position, confidence
	FROM cycles WHERE session_id = ? ORDER BY taken_at`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []fusion.Update
	for rows.Next() {
		var (
			u          fusion.Update
			state      string
			ratio      sql.NullFloat64
			heartRate  sql.NullFloat64
			theta      sql.NullFloat64
			movement   sql.NullFloat64
			expression sql.NullFloat64
			trend      sql.NullString
			position   sql.NullString
			confidence sql.NullFloat64
		)
		if err := rows.Scan(
			&u.At, &state, &ratio, &heartRate, &theta, &movement,
			&expression, &u.EEGStale, &u.PPGStale,
			&trend, &position, &confidence,
		); err != nil {
			return nil, err
		}
		u.State = fusion.State(state)
		u.Ratio = fromNull(ratio)
		u.HeartRate = fromNull(heartRate)
		u.Theta = fromNull(theta)
		u.Movement = fromNull(movement)
		u.ExpressionScore = fromNull(expression)
		u.Trend = fusion.Trend(trend.String)
		u.Suggestion = fusion.Position(position.String)
		u.Confidence = confidence.Float64
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return updates, nil
}

// CycleCount reports how many cycles a session has recorded.
func (db *DB) CycleCount(sessionID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM cycles WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func statsMedian(s *fusion.FeatureStats) any {
	if s == nil {
		return nil
	}
	return s.Median
}

func statsStd(s *fusion.FeatureStats) any {
	if s == nil {
		return nil
	}
	return s.Std
}

func scanStats(median, std sql.NullFloat64) *fusion.FeatureStats {
	if !median.Valid {
		return nil
	}
	return &fusion.FeatureStats{Median: median.Float64, Std: std.Float64}
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// AttachAdminRoutes mounts the SQL debugger and the backup endpoint on the
// debug mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://vitals.db", db.DB, &tailsql.DBOptions{
		Label: "Vitals DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
