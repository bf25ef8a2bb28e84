package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// BatchRun summarises one CSV batch prediction run.
type BatchRun struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Rows       int       `json:"rows"`
	Total      float64   `json:"total"`
	Mean       float64   `json:"mean"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r BatchRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// StoreBatchRun records a batch run keyed by its start time.
func (s *Store) StoreBatchRun(run BatchRun) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal batch run: %w", err)
		}

		key := fmt.Sprintf("%020d_%s", run.StartedAt.UnixNano(), run.ID)
		return tx.Bucket([]byte(batchesBucket)).Put([]byte(key), data)
	})
}

// ListBatchRuns returns up to limit batch runs, newest first.
func (s *Store) ListBatchRuns(limit int) ([]BatchRun, error) {
	var runs []BatchRun

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(batchesBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var run BatchRun
			if err := json.Unmarshal(v, &run); err != nil {
				continue
			}
			runs = append(runs, run)
			if limit > 0 && len(runs) == limit {
				break
			}
		}
		return nil
	})

	return runs, err
}
