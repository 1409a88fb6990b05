package db

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// DecisionColumns is the header row written by ExportDecisionsCSV.
var DecisionColumns = []string{
	"window_index", "window_start", "class", "confidence", "intensity",
	"accepted", "vx", "vy", "reason", "latency_us",
}

// ExportDecisionsCSV writes the decision log of session id to w in window
// order and returns the number of rows written.
func (db *DB) ExportDecisionsCSV(w io.Writer, id string) (int, error) {
	if _, err := db.Session(id); err != nil {
		return 0, err
	}
	rows, err := db.Query(`
		SELECT window_index, window_start_unix_nanos, COALESCE(class, ''),
			COALESCE(confidence, 0), COALESCE(intensity, 0), accepted, vx, vy,
			reason, latency_us
		FROM decisions
		WHERE session_id = ?
		ORDER BY rowid`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to query decisions of %s: %w", id, err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(DecisionColumns); err != nil {
		return 0, err
	}
	n := 0
	for rows.Next() {
		var (
			index, latency      int64
			start               sql.NullInt64
			class, reason       string
			conf, inten, vx, vy float64
			accepted            int
		)
		if err := rows.Scan(&index, &start, &class, &conf, &inten, &accepted, &vx, &vy, &reason, &latency); err != nil {
			return n, err
		}
		ts := ""
		if start.Valid {
			ts = time.Unix(0, start.Int64).UTC().Format(time.RFC3339Nano)
		}
		rec := []string{
			strconv.FormatInt(index, 10), ts, class,
			strconv.FormatFloat(conf, 'f', 4, 64), strconv.FormatFloat(inten, 'f', 4, 64),
			strconv.Itoa(accepted),
			strconv.FormatFloat(vx, 'f', 2, 64), strconv.FormatFloat(vy, 'f', 2, 64),
			reason, strconv.FormatInt(latency, 10),
		}
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}
