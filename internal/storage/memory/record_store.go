package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

var _ crawler.Store = (*RecordStore)(nil)

type collectionKey struct {
	profileID  string
	collection crawler.Collection
}

type recordSet struct {
	order []string
	byKey map[string]crawler.Record
}

func (rs *recordSet) remove(key string) {
	if rs == nil {
		return
	}
	if _, ok := rs.byKey[key]; !ok {
		return
	}
	delete(rs.byKey, key)
	rs.order = slices.DeleteFunc(rs.order, func(k string) bool { return k == key })
}

// RecordStore keeps profiles and extracted records in-memory.
type RecordStore struct {
	mu       sync.RWMutex
	profiles map[string]crawler.Profile
	records  map[collectionKey]*recordSet
}

// NewRecordStore seeds the store with the given profiles.
func NewRecordStore(profiles ...crawler.Profile) *RecordStore {
	s := &RecordStore{
		profiles: make(map[string]crawler.Profile),
		records:  make(map[collectionKey]*recordSet),
	}
	for _, p := range profiles {
		s.PutProfile(p)
	}
	return s
}

// PutProfile inserts or replaces a profile.
func (s *RecordStore) PutProfile(profile crawler.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = cloneProfile(profile)
}

// GetProfile returns a copy of the stored profile.
func (s *RecordStore) GetProfile(_ context.Context, profileID string) (crawler.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return crawler.Profile{}, eris.Wrapf(crawler.ErrProfileNotFound, "profile %q", profileID)
	}
	return cloneProfile(p), nil
}

// UpsertRecords writes records keyed by Record.Key; repeating a call leaves
// the collection unchanged. A key lives in one collection per profile, so a
// record moving between owned and others leaves its old collection.
func (s *RecordStore) UpsertRecords(
	_ context.Context,
	profileID string,
	collection crawler.Collection,
	records []crawler.Record,
) error {
	if !collection.Valid() {
		return fmt.Errorf("unknown collection %q", collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := collectionKey{profileID: profileID, collection: collection}
	set, ok := s.records[key]
	if !ok {
		set = &recordSet{byKey: make(map[string]crawler.Record)}
		s.records[key] = set
	}
	for _, r := range records {
		k := r.Key()
		for _, other := range []crawler.Collection{crawler.CollectionOwned, crawler.CollectionOthers} {
			if other != collection {
				s.records[collectionKey{profileID: profileID, collection: other}].remove(k)
			}
		}
		if _, exists := set.byKey[k]; !exists {
			set.order = append(set.order, k)
		}
		r.Authors = slices.Clone(r.Authors)
		set.byKey[k] = r
	}
	return nil
}

// AppendAliasCandidates adds candidates not already known or pending.
func (s *RecordStore) AppendAliasCandidates(_ context.Context, profileID string, candidates []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return eris.Wrapf(crawler.ErrProfileNotFound, "profile %q", profileID)
	}
	set := crawler.NewAliasSet(p)
	for _, c := range candidates {
		set.Add(c)
	}
	p.CandidateAliases = append(p.CandidateAliases, set.Values()...)
	s.profiles[profileID] = p
	return nil
}

// ListRecords returns the collection in first-insertion order.
func (s *RecordStore) ListRecords(
	_ context.Context,
	profileID string,
	collection crawler.Collection,
) ([]crawler.Record, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.records[collectionKey{profileID: profileID, collection: collection}]
	if !ok {
		return []crawler.Record{}, nil
	}
	out := make([]crawler.Record, 0, len(set.order))
	for _, k := range set.order {
		r := set.byKey[k]
		r.Authors = slices.Clone(r.Authors)
		out = append(out, r)
	}
	return out, nil
}

// StoreAliases replaces the known aliases and drops them from the candidates.
func (s *RecordStore) StoreAliases(_ context.Context, profileID string, aliases []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return eris.Wrapf(crawler.ErrProfileNotFound, "profile %q", profileID)
	}
	p.KnownAliases = dedupe(aliases)
	p.CandidateAliases = slices.DeleteFunc(slices.Clone(p.CandidateAliases), func(c string) bool {
		return slices.Contains(p.KnownAliases, c)
	})
	s.profiles[profileID] = p
	return nil
}

func cloneProfile(p crawler.Profile) crawler.Profile {
	p.KnownAliases = slices.Clone(p.KnownAliases)
	p.CandidateAliases = slices.Clone(p.CandidateAliases)
	return p
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
