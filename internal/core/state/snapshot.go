package state

import (
	"context"
	"fmt"
	"sort"

	"github.com/weisyn/permnode/pkg/types"
)

// snapshot 已提交状态之上的写覆盖层
type snapshot struct {
	repo     *Repository
	base     types.Hash
	height   uint32
	overlay  map[string]types.StateEntry
	consumed bool
}

func (s *snapshot) BaseHash() types.Hash { return s.base }

func (s *snapshot) Height() uint32 { return s.height }

func (s *snapshot) lookup(key string) (types.StateEntry, bool, error) {
	if e, ok := s.overlay[key]; ok {
		return e, true, nil
	}
	return s.repo.readEntry(context.Background(), key)
}

func (s *snapshot) Get(key string) ([]byte, bool, error) {
	if s.consumed {
		return nil, false, errSnapshotConsumed
	}
	e, found, err := s.lookup(key)
	if err != nil || !found || e.Deleted {
		return nil, false, err
	}
	return append([]byte(nil), e.Value...), true, nil
}

func (s *snapshot) Version(key string) (uint64, error) {
	if s.consumed {
		return 0, errSnapshotConsumed
	}
	e, found, err := s.lookup(key)
	if err != nil || !found {
		return 0, err
	}
	return e.Version, nil
}

func (s *snapshot) Put(key string, value []byte) error {
	return s.write(key, types.StateEntry{Value: append([]byte(nil), value...)})
}

func (s *snapshot) Delete(key string) error {
	return s.write(key, types.StateEntry{Deleted: true})
}

func (s *snapshot) write(key string, e types.StateEntry) error {
	if s.consumed {
		return errSnapshotConsumed
	}
	if key == "" {
		return fmt.Errorf("empty state key")
	}
	v, err := s.Version(key)
	if err != nil {
		return err
	}
	e.Version = v + 1
	s.overlay[key] = e
	return nil
}

func (s *snapshot) Writes() []types.StateWrite {
	keys := make([]string, 0, len(s.overlay))
	for k := range s.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.StateWrite, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.StateWrite{Key: k, Entry: s.overlay[k].Clone()})
	}
	return out
}
