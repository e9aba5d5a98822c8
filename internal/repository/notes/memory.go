package notes

import (
	"context"
	"sort"
	"sync"

	"github.com/0xMiden/miden-note-transport/internal/model"
)

type (
	// MemoryStore is the embedded in-process backend. It is the
	// reference implementation of the port semantics and the default
	// for tests and `:memory:` runs.
	MemoryStore struct {
		mu       sync.RWMutex
		byID     map[model.NoteID]*model.Note
		byTag    map[uint32][]*model.Note // each slice ordered by (created_at, id)
		settings map[string]string
	}
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[model.NoteID]*model.Note),
		byTag:    make(map[uint32][]*model.Note),
		settings: make(map[string]string),
	}
}

func (s *MemoryStore) Insert(_ context.Context, note *model.Note) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[note.ID]; ok {
		return false, nil
	}
	stored := *note
	stored.Header = append([]byte(nil), note.Header...)
	stored.Details = append([]byte(nil), note.Details...)

	s.byID[stored.ID] = &stored
	list := s.byTag[stored.Tag]
	at := sort.Search(len(list), func(i int) bool {
		return !stored.After(model.CursorOf(list[i]))
	})
	list = append(list, nil)
	copy(list[at+1:], list[at:])
	list[at] = &stored
	s.byTag[stored.Tag] = list
	return true, nil
}

func (s *MemoryStore) QueryByTag(_ context.Context, tag uint32, cursor model.Cursor, limit int) ([]*model.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byTag[tag]
	from := sort.Search(len(list), func(i int) bool {
		return list[i].After(cursor)
	})
	out := make([]*model.Note, 0, limit)
	for i := from; i < len(list) && len(out) < limit; i++ {
		n := *list[i]
		out = append(out, &n)
	}
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoffMS int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for tag, list := range s.byTag {
		keep := sort.Search(len(list), func(i int) bool {
			return list[i].CreatedAt > cutoffMS
		})
		for _, n := range list[:keep] {
			delete(s.byID, n.ID)
			deleted++
		}
		if keep == len(list) {
			delete(s.byTag, tag)
		} else {
			s.byTag[tag] = append([]*model.Note(nil), list[keep:]...)
		}
	}
	return deleted, nil
}

func (s *MemoryStore) CountByTag(_ context.Context, tag uint32) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byTag[tag])), nil
}

func (s *MemoryStore) CountTotal(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byID)), nil
}

func (s *MemoryStore) CountTags(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byTag)), nil
}

func (s *MemoryStore) MaxCreatedAt(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxTS int64
	for _, list := range s.byTag {
		if n := len(list); n > 0 && list[n-1].CreatedAt > maxTS {
			maxTS = list[n-1].CreatedAt
		}
	}
	return maxTS, nil
}

func (s *MemoryStore) Setting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[key], nil
}

func (s *MemoryStore) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
