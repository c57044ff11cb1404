package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

var _ crawler.Store = (*RecordStore)(nil)

const (
	selectProfileSQL = `SELECT id, name, search_handle, known_aliases, candidate_aliases
FROM profiles WHERE id = $1`

	upsertProfileSQL = `INSERT INTO profiles (id, name, search_handle, known_aliases, candidate_aliases)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, search_handle = EXCLUDED.search_handle`

	upsertRecordSQL = `INSERT INTO records (
	profile_id, collection, record_key, source_id, title, year, source_url,
	description, citations, versions, related_url, authors
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (profile_id, record_key) DO UPDATE SET
	collection = EXCLUDED.collection,
	source_id = EXCLUDED.source_id,
	title = EXCLUDED.title,
	year = EXCLUDED.year,
	source_url = EXCLUDED.source_url,
	description = EXCLUDED.description,
	citations = EXCLUDED.citations,
	versions = EXCLUDED.versions,
	related_url = EXCLUDED.related_url,
	authors = EXCLUDED.authors,
	updated_at = now()`

	// Candidates keep first-seen order and never repeat a known alias.
	appendCandidatesSQL = `UPDATE profiles SET candidate_aliases = COALESCE((
	SELECT array_agg(alias ORDER BY pos) FROM (
		SELECT alias, min(pos) AS pos
		FROM unnest(candidate_aliases || $2::text[]) WITH ORDINALITY AS c(alias, pos)
		WHERE alias <> ALL(known_aliases) AND alias <> ''
		GROUP BY alias
	) deduped), '{}')
WHERE id = $1`

	storeAliasesSQL = `UPDATE profiles SET
	known_aliases = $2::text[],
	candidate_aliases = ARRAY(
		SELECT alias FROM unnest(candidate_aliases) WITH ORDINALITY AS c(alias, pos)
		WHERE alias <> ALL($2::text[]) ORDER BY pos
	)
WHERE id = $1`

	listRecordsSQL = `SELECT source_id, title, year, source_url, description, citations,
	versions, related_url, authors
FROM records WHERE profile_id = $1 AND collection = $2
ORDER BY first_seen, record_key`
)

// RecordStore implements crawler.Store on Postgres.
type RecordStore struct {
	pool Pool
}

// NewRecordStore wraps an open pool.
func NewRecordStore(pool Pool) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetProfile loads a profile by ID.
func (s *RecordStore) GetProfile(ctx context.Context, profileID string) (crawler.Profile, error) {
	var p crawler.Profile
	err := s.pool.QueryRow(ctx, selectProfileSQL, profileID).Scan(
		&p.ID,
		&p.Name,
		&p.SearchHandle,
		&p.KnownAliases,
		&p.CandidateAliases,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Profile{}, eris.Wrapf(crawler.ErrProfileNotFound, "profile %q", profileID)
	}
	if err != nil {
		return crawler.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	return p, nil
}

// UpsertProfile registers a profile; existing alias sets are left alone.
func (s *RecordStore) UpsertProfile(ctx context.Context, p crawler.Profile) error {
	known := nonNil(p.KnownAliases)
	candidates := nonNil(p.CandidateAliases)
	if _, err := s.pool.Exec(ctx, upsertProfileSQL, p.ID, p.Name, p.SearchHandle, known, candidates); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// UpsertRecords writes records in one transaction, keyed by Record.Key. A key
// is unique per profile; upserting it into another collection moves it.
func (s *RecordStore) UpsertRecords(
	ctx context.Context,
	profileID string,
	collection crawler.Collection,
	records []crawler.Record,
) error {
	if !collection.Valid() {
		return fmt.Errorf("unknown collection %q", collection)
	}
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range records {
		_, err := tx.Exec(ctx, upsertRecordSQL,
			profileID,
			string(collection),
			r.Key(),
			r.SourceID,
			r.Title,
			r.Year,
			r.SourceURL,
			r.Description,
			r.Citations,
			r.Versions,
			r.RelatedURL,
			nonNil(r.Authors),
		)
		if err != nil {
			return fmt.Errorf("upsert record %s: %w", r.Key(), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// AppendAliasCandidates merges candidates into the profile's pending set.
func (s *RecordStore) AppendAliasCandidates(ctx context.Context, profileID string, candidates []string) error {
	if len(candidates) == 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx, appendCandidatesSQL, profileID, candidates)
	if err != nil {
		return fmt.Errorf("append alias candidates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(crawler.ErrProfileNotFound, "profile %q", profileID)
	}
	return nil
}

// ListRecords returns a collection in first-seen order.
func (s *RecordStore) ListRecords(
	ctx context.Context,
	profileID string,
	collection crawler.Collection,
) ([]crawler.Record, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	rows, err := s.pool.Query(ctx, listRecordsSQL, profileID, string(collection))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := []crawler.Record{}
	for rows.Next() {
		var r crawler.Record
		if err := rows.Scan(
			&r.SourceID,
			&r.Title,
			&r.Year,
			&r.SourceURL,
			&r.Description,
			&r.Citations,
			&r.Versions,
			&r.RelatedURL,
			&r.Authors,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// StoreAliases replaces the known aliases and drops them from the candidates.
func (s *RecordStore) StoreAliases(ctx context.Context, profileID string, aliases []string) error {
	known := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if a != "" && !slices.Contains(known, a) {
			known = append(known, a)
		}
	}
	tag, err := s.pool.Exec(ctx, storeAliasesSQL, profileID, known)
	if err != nil {
		return fmt.Errorf("store aliases: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(crawler.ErrProfileNotFound, "profile %q", profileID)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
