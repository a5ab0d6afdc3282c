package storage

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"
)

const (
	walPrefix           = "ledger_"
	walSegmentThreshold = 1000
	walMaxSegments      = 1 << 20
	walDirPermissions   = 0o755

	commitKey = "commit"
)

// entry is one mutation inside a batch. Entries become visible only once the
// commit record of their batch is in the log.
type entry struct {
	Batch uint64          `json:"b"`
	Op    string          `json:"op"`
	Kind  string          `json:"k"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"d,omitempty"`
}

func openWAL(dir string) (*gowal.Wal, error) {
	if err := os.MkdirAll(dir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           walPrefix,
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	return wal, nil
}

// recover rebuilds the in-memory state from committed batches.
func (s *Store) recover() error {
	pending := make(map[uint64][]entry)
	var discarded int

	for msg := range s.wal.Iterator() {
		if msg.Key == commitKey {
			batch, err := strconv.ParseUint(string(msg.Value), 10, 64)
			if err != nil {
				return errors.Wrap(err, "decode commit record")
			}
			for _, e := range pending[batch] {
				if err := s.apply(e); err != nil {
					return err
				}
			}
			delete(pending, batch)
			if batch > s.batch {
				s.batch = batch
			}
			continue
		}

		var e entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			return errors.Wrapf(err, "decode WAL entry %s", msg.Key)
		}
		pending[e.Batch] = append(pending[e.Batch], e)
		if e.Batch > s.batch {
			s.batch = e.Batch
		}
	}

	for _, entries := range pending {
		discarded += len(entries)
	}
	if discarded > 0 {
		s.logger.Warn("discarded uncommitted WAL entries", zap.Int("entries", discarded))
	}

	return nil
}

// writeBatch appends entries followed by the commit record.
func (s *Store) writeBatch(entries []entry) error {
	if s.wal == nil {
		return nil
	}

	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "marshal WAL entry")
		}
		nextIndex := s.wal.CurrentIndex() + 1
		if err := s.wal.Write(nextIndex, e.Kind+":"+e.ID, payload); err != nil {
			return errors.Wrap(err, "write WAL entry")
		}
	}

	batch := strconv.FormatUint(entries[0].Batch, 10)
	nextIndex := s.wal.CurrentIndex() + 1
	return errors.Wrap(s.wal.Write(nextIndex, commitKey, []byte(batch)), "write WAL commit")
}
