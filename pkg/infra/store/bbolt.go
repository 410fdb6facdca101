package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("index")
)

// BoltStore persists workflow runs in a local bbolt file. Runs are stored
// under a monotonic sequence key so iteration order is insertion order;
// the index bucket maps run IDs to their sequence key.
type BoltStore struct {
	db *bolt.DB
}

var _ interfaces.RunStore = (*BoltStore)(nil)

// New opens (or creates) the store at path.
func New(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open run store", goerr.V("path", path))
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to create run store buckets")
	}

	return &BoltStore{db: db}, nil
}

// Put inserts or updates a run. New runs get a fresh sequence key; updates
// reuse the key recorded in the index.
func (s *BoltStore) Put(ctx context.Context, run *model.WorkflowRun) error {
	if run.ID == "" {
		return goerr.New("run ID is empty")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal run", goerr.V("id", run.ID))
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		index := tx.Bucket(bucketIndex)

		key := index.Get([]byte(run.ID))
		if key == nil {
			seq, err := runs.NextSequence()
			if err != nil {
				return err
			}
			key = []byte(fmt.Sprintf("%020d:%s", seq, run.ID))
			if err := index.Put([]byte(run.ID), key); err != nil {
				return err
			}
		}

		return runs.Put(key, data)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to store run", goerr.V("id", run.ID))
	}
	return nil
}

// Get returns the run with the given ID.
func (s *BoltStore) Get(ctx context.Context, id string) (*model.WorkflowRun, error) {
	var run *model.WorkflowRun

	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketIndex).Get([]byte(id))
		if key == nil {
			return goerr.New("run not found", goerr.V("id", id))
		}

		data := tx.Bucket(bucketRuns).Get(key)
		if data == nil {
			return goerr.New("run index is stale", goerr.V("id", id))
		}

		run = &model.WorkflowRun{}
		return json.Unmarshal(data, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns up to limit runs, newest first.
func (s *BoltStore) List(ctx context.Context, limit int) ([]*model.WorkflowRun, error) {
	if limit <= 0 {
		return nil, goerr.New("limit must be positive", goerr.V("limit", limit))
	}

	runs := make([]*model.WorkflowRun, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil && len(runs) < limit; k, v = c.Prev() {
			run := &model.WorkflowRun{}
			if err := json.Unmarshal(v, run); err != nil {
				return goerr.Wrap(err, "failed to unmarshal run", goerr.V("key", string(k)))
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
