// Package storage provides persistent storage for the sales prediction service.
// It uses BoltDB as the underlying storage engine to keep the prediction history
// and the log of batch runs.
//
// Predictions are keyed by branch and timestamp so that per-branch time-range
// queries are cursor scans; a secondary bucket maps prediction IDs to keys.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"supermarket-sales/internal/ml"
)

const (
	predictionsBucket = "predictions"    // Prediction records keyed by branch_timestamp
	predictionIDs     = "prediction_ids" // Prediction ID to record key
	batchesBucket     = "batches"        // Batch run summaries keyed by start time

	// unknownBranch keys predictions whose branch is empty.
	unknownBranch = "-"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// PredictionRecord is a stored prediction together with where it came from.
type PredictionRecord struct {
	ml.Result
	Source string `json:"source"`
}

// Store provides persistent storage for predictions using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "sales-data.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{predictionsBucket, predictionIDs, batchesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.db.Path()
}

func predictionKey(branch string, ts time.Time) []byte {
	if branch == "" {
		branch = unknownBranch
	}
	return []byte(fmt.Sprintf("%s_%d", branch, ts.UnixNano()))
}

// StorePrediction stores a prediction and indexes it by ID.
func (s *Store) StorePrediction(rec PredictionRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}

		key := predictionKey(rec.Transaction.Branch, rec.Timestamp)
		if err := tx.Bucket([]byte(predictionsBucket)).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket([]byte(predictionIDs)).Put([]byte(rec.ID.String()), key)
	})
}

// GetPrediction returns the prediction with the given ID.
func (s *Store) GetPrediction(id string) (PredictionRecord, error) {
	var rec PredictionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(predictionIDs)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("prediction %s: %w", id, ErrNotFound)
		}
		data := tx.Bucket([]byte(predictionsBucket)).Get(key)
		if data == nil {
			return fmt.Errorf("prediction %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// getRecordsInRange is a generic function to retrieve records from a bucket within a time range.
// It uses BoltDB cursors for efficient range scanning and applies the provided unmarshal function
// to deserialize each record. Malformed records are skipped.
func (s *Store) getRecordsInRange(bucketName, prefix string, start, end time.Time, unmarshalFunc func([]byte) (interface{}, error)) ([]interface{}, error) {
	var records []interface{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		c := b.Cursor()

		keyPrefix := []byte(prefix + "_")
		startKey := []byte(fmt.Sprintf("%s_%d", prefix, start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%s_%d", prefix, end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, keyPrefix) {
				continue
			}

			record, err := unmarshalFunc(v)
			if err != nil {
				continue
			}
			records = append(records, record)
		}

		return nil
	})

	return records, err
}

func unmarshalPrediction(data []byte) (interface{}, error) {
	var rec PredictionRecord
	err := json.Unmarshal(data, &rec)
	return rec, err
}

// GetPredictionsInRange retrieves the predictions of one branch within a time range,
// ordered by timestamp. The range is inclusive of both ends.
func (s *Store) GetPredictionsInRange(branch string, start, end time.Time) ([]PredictionRecord, error) {
	if branch == "" {
		branch = unknownBranch
	}
	records, err := s.getRecordsInRange(predictionsBucket, branch, start, end, unmarshalPrediction)
	if err != nil {
		return nil, err
	}

	preds := make([]PredictionRecord, len(records))
	for i, record := range records {
		preds[i] = record.(PredictionRecord)
	}
	return preds, nil
}

// ForEachPrediction calls fn for every stored prediction in key order.
// Iteration stops at the first error fn returns.
func (s *Store) ForEachPrediction(fn func(PredictionRecord) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(predictionsBucket)).ForEach(func(_, v []byte) error {
			var rec PredictionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			return fn(rec)
		})
	})
}

// ListRecent returns up to limit predictions, newest first. A non-empty
// branch restricts the result to that branch. limit <= 0 returns all.
func (s *Store) ListRecent(limit int, branch string) ([]PredictionRecord, error) {
	var out []PredictionRecord

	collect := func(rec PredictionRecord) error {
		if branch == "" || rec.Transaction.Branch == branch {
			out = append(out, rec)
		}
		return nil
	}
	if err := s.ForEachPrediction(collect); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountPredictions returns the number of stored predictions.
func (s *Store) CountPredictions() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}
