package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DeusData/tapaconv/internal/pipeline"
)

// Run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Run is one recorded conversion.
type Run struct {
	ID         int64          `json:"id"`
	Input      string         `json:"input"`
	Top        string         `json:"top,omitempty"`
	InputHash  string         `json:"input_hash,omitempty"`
	OutputHash string         `json:"output_hash,omitempty"`
	Status     string         `json:"status"`
	Stage      string         `json:"stage,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ChannelRecord is the resolved direction of one channel parameter in a run.
type ChannelRecord struct {
	Function  string `json:"function"`
	Param     string `json:"param"`
	Element   string `json:"element,omitempty"`
	Direction string `json:"direction"`
}

// RunFromResult builds the history record of a conversion. res may be nil
// when err is set.
func RunFromResult(input string, started time.Time, res *pipeline.Result, err error) (*Run, []ChannelRecord) {
	run := &Run{
		Input:      input,
		Status:     StatusOK,
		StartedAt:  started.UTC().Format(time.RFC3339),
		FinishedAt: Now(),
		Properties: map[string]any{"elapsed_ms": time.Since(started).Milliseconds()},
	}
	if err != nil {
		run.Status = StatusError
		run.Error = err.Error()
		var se *pipeline.StageError
		if errors.As(err, &se) {
			run.Stage = se.Stage
		}
	}
	if res == nil {
		return run, nil
	}

	run.Top = res.Top
	run.InputHash = res.InputHash
	run.OutputHash = res.OutputHash
	run.Properties["local_updates"] = res.Stats.LocalUpdates
	run.Properties["call_passes"] = res.Stats.CallPasses
	run.Properties["call_updates"] = res.Stats.CallUpdates
	run.Properties["tasks"] = len(res.Tasks)
	if len(res.Warnings) > 0 {
		run.Properties["warnings"] = res.Warnings
	}

	var channels []ChannelRecord
	for _, fn := range res.Functions {
		for _, p := range fn.Params {
			if p.Kind != pipeline.Channel.String() {
				continue
			}
			channels = append(channels, ChannelRecord{
				Function:  fn.Name,
				Param:     p.Name,
				Element:   p.Element,
				Direction: p.Direction,
			})
		}
	}
	return run, channels
}

// RecordRun stores a run and its channel directions in one transaction and
// returns the new run id.
func (s *Store) RecordRun(run *Run, channels []ChannelRecord) (int64, error) {
	var id int64
	err := s.WithTransaction(func(tx *Store) error {
		res, err := tx.q.Exec(`
			INSERT INTO runs (input, top, input_hash, output_hash, status, stage, error, started_at, finished_at, properties)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.Input, run.Top, run.InputHash, run.OutputHash, run.Status, run.Stage, run.Error,
			run.StartedAt, run.FinishedAt, marshalProps(run.Properties))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, ch := range channels {
			if _, err := tx.q.Exec(`
				INSERT INTO channels (run_id, function, param, element, direction) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(run_id, function, param) DO UPDATE SET element=excluded.element, direction=excluded.direction`,
				id, ch.Function, ch.Param, ch.Element, ch.Direction); err != nil {
				return fmt.Errorf("insert channel %s.%s: %w", ch.Function, ch.Param, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

const runColumns = "id, input, top, input_hash, output_hash, status, stage, error, started_at, finished_at, properties"

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var props string
	if err := row.Scan(&r.ID, &r.Input, &r.Top, &r.InputHash, &r.OutputHash, &r.Status,
		&r.Stage, &r.Error, &r.StartedAt, &r.FinishedAt, &props); err != nil {
		return nil, err
	}
	r.Properties = unmarshalProps(props)
	return &r, nil
}

// GetRun returns a run by id, or nil if there is none.
func (s *Store) GetRun(id int64) (*Run, error) {
	r, err := scanRun(s.q.QueryRow("SELECT "+runColumns+" FROM runs WHERE id=?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRuns returns the most recent runs first. An empty input lists runs
// for every input; limit <= 0 means no limit.
func (s *Store) ListRuns(input string, limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any
	if input != "" {
		query += " WHERE input=?"
		args = append(args, input)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var result []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// RunChannels returns the channel directions recorded for a run.
func (s *Store) RunChannels(runID int64) ([]ChannelRecord, error) {
	rows, err := s.q.Query(`SELECT function, param, element, direction FROM channels
		WHERE run_id=? ORDER BY function, param`, runID)
	if err != nil {
		return nil, fmt.Errorf("run channels: %w", err)
	}
	defer rows.Close()
	var result []ChannelRecord
	for rows.Next() {
		var ch ChannelRecord
		if err := rows.Scan(&ch.Function, &ch.Param, &ch.Element, &ch.Direction); err != nil {
			return nil, err
		}
		result = append(result, ch)
	}
	return result, rows.Err()
}

// LastSuccess returns the newest successful run for input, or nil.
func (s *Store) LastSuccess(input string) (*Run, error) {
	r, err := scanRun(s.q.QueryRow("SELECT "+runColumns+" FROM runs WHERE input=? AND status=? ORDER BY id DESC LIMIT 1",
		input, StatusOK))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// PruneRuns deletes all but the newest keep runs. Channel rows go with them.
func (s *Store) PruneRuns(keep int) (int64, error) {
	res, err := s.q.Exec(`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
