package syncclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

const cursorPrefix = "cursor:"

// PebbleCursorStore keeps cursors in a local pebble database.
type PebbleCursorStore struct {
	db *pebble.DB
}

// OpenPebbleCursorStore opens (or creates) the database directory at path.
func OpenPebbleCursorStore(path string) (*PebbleCursorStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("cursor store dir: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}
	return &PebbleCursorStore{db: db}, nil
}

func (s *PebbleCursorStore) Load(id string) (Cursor, bool, error) {
	v, closer, err := s.db.Get([]byte(cursorPrefix + id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, err
	}
	defer closer.Close()

	var c Cursor
	if err := json.Unmarshal(v, &c); err != nil {
		return Cursor{}, false, fmt.Errorf("decode cursor %s: %w", id, err)
	}
	return c, true, nil
}

func (s *PebbleCursorStore) Save(id string, c Cursor) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(cursorPrefix+id), b, pebble.Sync)
}

// All returns every stored cursor keyed by conversation id.
func (s *PebbleCursorStore) All() (map[string]Cursor, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(cursorPrefix),
		UpperBound: []byte(cursorPrefix[:len(cursorPrefix)-1] + ";"),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make(map[string]Cursor)
	for ok := it.First(); ok; ok = it.Next() {
		var c Cursor
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			return nil, fmt.Errorf("decode cursor %s: %w", it.Key(), err)
		}
		out[string(it.Key()[len(cursorPrefix):])] = c
	}
	return out, it.Error()
}

func (s *PebbleCursorStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
