package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/ports"
)

const recordsTable = "records"

// ErrRecordNotFound is returned when an id does not exist in the store.
var ErrRecordNotFound = errors.New("record not found")

var recordColumns = []string{
	"id",
	"title",
	"description",
	"source_channel",
	"thumbnail_ref",
	"priority_metric",
	"enriched_fields",
	"analyzed",
	"analyzed_at",
}

// SQLStore persists catalog records in Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string
	builder sq.StatementBuilderType
	now     func() time.Time
}

var _ ports.RecordStore = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, dialect string) *SQLStore {
	var format sq.PlaceholderFormat = sq.Question
	if dialect == dialectPostgres {
		format = sq.Dollar
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ListUnanalyzed returns up to q.Limit records with analyzed=false, highest
// priority first, skipping ids in q.Exclude.
func (s *SQLStore) ListUnanalyzed(ctx context.Context, q ports.ListQuery) ([]domain.Record, error) {
	if q.Limit <= 0 {
		return nil, nil
	}

	qb := s.builder.
		Select(recordColumns...).
		From(recordsTable).
		Where(sq.Eq{"analyzed": false}).
		OrderBy("priority_metric DESC", "id ASC").
		Limit(uint64(q.Limit))
	if len(q.Exclude) > 0 {
		qb = qb.Where(sq.NotEq{"id": q.Exclude})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select unanalyzed: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unanalyzed: %w", err)
	}

	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return records, nil
}

// CommitEnrichment sets enriched_fields and analyzed=true in one conditional
// UPDATE. It reports applied=false when the record was already analyzed and
// ErrRecordNotFound when the id does not exist.
func (s *SQLStore) CommitEnrichment(ctx context.Context, id string, fields domain.EnrichedFields) (bool, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("encode enriched fields: %w", err)
	}

	query, args, err := s.builder.
		Update(recordsTable).
		Set("enriched_fields", string(payload)).
		Set("analyzed", true).
		Set("analyzed_at", s.timestampArg(s.now())).
		Where(sq.Eq{"id": id, "analyzed": false}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build commit: %w", err)
	}

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("commit enrichment %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("commit enrichment %s: rows affected: %w", id, err)
	}
	if affected == 1 {
		return true, nil
	}

	exists, err := s.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("commit enrichment %s: %w", id, ErrRecordNotFound)
	}
	return false, nil
}

// CountUnanalyzed reports how many records still have analyzed=false.
func (s *SQLStore) CountUnanalyzed(ctx context.Context) (int, error) {
	query, args, err := s.builder.
		Select("COUNT(1)").
		From(recordsTable).
		Where(sq.Eq{"analyzed": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unanalyzed: %w", err)
	}
	return count, nil
}

// Get loads a single record by id.
func (s *SQLStore) Get(ctx context.Context, id string) (domain.Record, error) {
	query, args, err := s.builder.
		Select(recordColumns...).
		From(recordsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Record{}, fmt.Errorf("build get: %w", err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("get %s: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// Insert adds records, leaving any existing id untouched.
func (s *SQLStore) Insert(ctx context.Context, records ...domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	ib := s.builder.
		Insert(recordsTable).
		Columns(recordColumns...).
		Suffix("ON CONFLICT (id) DO NOTHING")
	for _, rec := range records {
		enriched, err := encodeFields(rec.EnrichedFields)
		if err != nil {
			return fmt.Errorf("insert %s: %w", rec.ID, err)
		}
		var analyzedAt any
		if rec.AnalyzedAt != nil {
			analyzedAt = s.timestampArg(*rec.AnalyzedAt)
		}
		ib = ib.Values(
			rec.ID,
			rec.Title,
			rec.Description,
			rec.SourceChannel,
			rec.ThumbnailRef,
			rec.PriorityMetric,
			enriched,
			rec.Analyzed,
			analyzedAt,
		)
	}

	query, args, err := ib.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, id string) (bool, error) {
	query, args, err := s.builder.
		Select("COUNT(1)").
		From(recordsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check %s exists: %w", id, err)
	}
	return count > 0, nil
}

// timestampArg binds timestamps natively for Postgres and as RFC 3339 text
// for SQLite, which has no timestamp type.
func (s *SQLStore) timestampArg(t time.Time) any {
	if s.dialect == dialectPostgres {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.Record, error) {
	var (
		rec        domain.Record
		enriched   []byte
		analyzedAt sql.NullString
	)
	err := row.Scan(
		&rec.ID,
		&rec.Title,
		&rec.Description,
		&rec.SourceChannel,
		&rec.ThumbnailRef,
		&rec.PriorityMetric,
		&enriched,
		&rec.Analyzed,
		&analyzedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record{}, err
		}
		return domain.Record{}, fmt.Errorf("scan record: %w", err)
	}

	if len(enriched) > 0 {
		if err := json.Unmarshal(enriched, &rec.EnrichedFields); err != nil {
			return domain.Record{}, fmt.Errorf("decode enriched fields of %s: %w", rec.ID, err)
		}
	}
	if analyzedAt.Valid && analyzedAt.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, analyzedAt.String); err == nil {
			rec.AnalyzedAt = &ts
		}
	}
	return rec, nil
}

func encodeFields(fields domain.EnrichedFields) (any, error) {
	if fields == nil {
		return nil, nil
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode enriched fields: %w", err)
	}
	return string(payload), nil
}
