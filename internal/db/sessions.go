package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// ErrUnknownSession is returned for session ids with no sessions row.
var ErrUnknownSession = errors.New("unknown session")

// Session describes one online control session.
type Session struct {
	ID              string          `json:"session_id"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at,omitzero"`
	FeatureSet      string          `json:"feature_set"`
	WindowSize      int             `json:"window_size"`
	WindowIncrement int             `json:"window_increment"`
	Threshold       float64         `json:"rejection_threshold"`
	ModelSummary    json.RawMessage `json:"model_summary"`
	Config          json.RawMessage `json:"config"`
}

// StartSession inserts the sessions row. Decisions for the session may be
// recorded once it exists.
func (db *DB) StartSession(s Session) error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	summary, cfg := s.ModelSummary, s.Config
	if len(summary) == 0 {
		summary = json.RawMessage("{}")
	}
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}
	_, err := db.Exec(`
		INSERT INTO sessions (
			session_id, started_unix_nanos, feature_set, window_size, window_inc,
			threshold, model_summary, config_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StartedAt.UnixNano(), s.FeatureSet, s.WindowSize, s.WindowIncrement,
		s.Threshold, string(summary), string(cfg),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
	}
	return nil
}

// EndSession stamps the session's end time. Ending an ended session moves
// the end time.
func (db *DB) EndSession(id string, at time.Time) error {
	res, err := db.Exec(`UPDATE sessions SET ended_unix_nanos = ? WHERE session_id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return nil
}

// Session loads one session row.
func (db *DB) Session(id string) (Session, error) {
	row := db.QueryRow(`
		SELECT session_id, started_unix_nanos, ended_unix_nanos, feature_set,
			window_size, window_inc, threshold, model_summary, config_json
		FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, err
}

// Sessions lists the most recent sessions first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT session_id, started_unix_nanos, ended_unix_nanos, feature_set,
			window_size, window_inc, threshold, model_summary, config_json
		FROM sessions ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s            Session
		started      int64
		ended        sql.NullInt64
		summary, cfg string
	)
	if err := row.Scan(&s.ID, &started, &ended, &s.FeatureSet, &s.WindowSize,
		&s.WindowIncrement, &s.Threshold, &summary, &cfg); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		s.EndedAt = time.Unix(0, ended.Int64).UTC()
	}
	s.ModelSummary = json.RawMessage(summary)
	s.Config = json.RawMessage(cfg)
	return s, nil
}

// RecordDecision appends a decision to the log. A terminated decision also
// ends its session.
func (db *DB) RecordDecision(d emg.Decision) error {
	var start sql.NullInt64
	if !d.WindowStart.IsZero() {
		start = sql.NullInt64{Int64: d.WindowStart.UnixNano(), Valid: true}
	}
	accepted := 0
	if d.Accepted {
		accepted = 1
	}
	_, err := db.Exec(`
		INSERT INTO decisions (
			session_id, window_index, window_start_unix_nanos, class, confidence,
			intensity, accepted, vx, vy, reason, latency_us
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SessionID, d.WindowIndex, start, d.Prediction.Class, d.Prediction.Confidence,
		d.Prediction.Intensity, accepted, d.Command.VX, d.Command.VY, string(d.Reason),
		d.Latency.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision %d: %w", d.WindowIndex, err)
	}
	if d.Reason == emg.ReasonTerminated {
		end := d.WindowStart
		if end.IsZero() {
			end = time.Now()
		}
		return db.EndSession(d.SessionID, end)
	}
	return nil
}

// SessionSummary aggregates a session's decisions.
type SessionSummary struct {
	Session         Session          `json:"session"`
	Windows         int64            `json:"windows"`
	Accepted        int64            `json:"accepted"`
	Rejected        int64            `json:"rejected"`
	Stalls          int64            `json:"stalls"`
	MeanConfidence  float64          `json:"mean_confidence"`
	MeanLatency     time.Duration    `json:"mean_latency_ns"`
	AcceptedByClass map[string]int64 `json:"accepted_by_class"`
}

// SessionSummary aggregates the logged decisions of a session. Stall and
// termination decisions are counted separately from windows.
func (db *DB) SessionSummary(id string) (SessionSummary, error) {
	s, err := db.Session(id)
	if err != nil {
		return SessionSummary{}, err
	}
	sum := SessionSummary{Session: s, AcceptedByClass: map[string]int64{}}

	var meanLatencyUs float64
	err = db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(accepted), 0),
			COALESCE(AVG(confidence), 0),
			COALESCE(AVG(latency_us), 0)
		FROM decisions
		WHERE session_id = ? AND reason NOT IN (?, ?)`,
		id, string(emg.ReasonStalled), string(emg.ReasonTerminated),
	).Scan(&sum.Windows, &sum.Accepted, &sum.MeanConfidence, &meanLatencyUs)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("failed to summarise session %s: %w", id, err)
	}
	sum.Rejected = sum.Windows - sum.Accepted
	sum.MeanLatency = time.Duration(meanLatencyUs * float64(time.Microsecond))

	if err := db.QueryRow(`SELECT COUNT(*) FROM decisions WHERE session_id = ? AND reason = ?`,
		id, string(emg.ReasonStalled)).Scan(&sum.Stalls); err != nil {
		return SessionSummary{}, err
	}

	rows, err := db.Query(`
		SELECT class, COUNT(*) FROM decisions
		WHERE session_id = ? AND accepted = 1
		GROUP BY class`, id)
	if err != nil {
		return SessionSummary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var class string
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return SessionSummary{}, err
		}
		sum.AcceptedByClass[class] = n
	}
	return sum, rows.Err()
}
