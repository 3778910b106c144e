package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches documents by title and head-revision content using
// plainto_tsquery, intersected with the property filters. With a blank
// query text only the filters apply and results come back newest first.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" && len(q.Filters) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var conditions []string
	var args []any
	argN := 1

	rank := "0::float4"
	snippet := "LEFT(r.content, 200)"
	if text != "" {
		tsQuery := fmt.Sprintf("plainto_tsquery('english', $%d)", argN)
		args = append(args, text)
		argN++
		conditions = append(conditions, fmt.Sprintf(
			"(to_tsvector('english', d.title) @@ %s OR to_tsvector('english', r.content) @@ %s)", tsQuery, tsQuery))
		rank = fmt.Sprintf(
			"ts_rank(to_tsvector('english', d.title), %s) + ts_rank(to_tsvector('english', r.content), %s)", tsQuery, tsQuery)
		snippet = fmt.Sprintf(
			"ts_headline('english', r.content, %s, 'MaxFragments=1,MaxWords=30')", tsQuery)
	}

	if q.SpaceID != "" {
		conditions = append(conditions, fmt.Sprintf("d.space_id = $%d", argN))
		args = append(args, q.SpaceID)
		argN++
	}

	for _, f := range q.Filters {
		if f.Value == nil {
			conditions = append(conditions, fmt.Sprintf("d.properties ? $%d", argN))
			args = append(args, f.Key)
			argN++
		} else {
			conditions = append(conditions, fmt.Sprintf("d.properties ->> $%d = $%d", argN, argN+1))
			args = append(args, f.Key, *f.Value)
			argN += 2
		}
	}

	base := fmt.Sprintf(`
		FROM documents d
		JOIN LATERAL (
			SELECT content FROM revisions WHERE document_id = d.id ORDER BY rev DESC LIMIT 1
		) r ON TRUE
		WHERE %s`, strings.Join(conditions, " AND "))

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) " + base
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title, d.slug, d.space_id, %s AS snippet, %s AS rank
		%s
		ORDER BY rank DESC, d.updated_at DESC
		LIMIT %d OFFSET %d`, snippet, rank, base, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rankValue float64
		if err := rows.Scan(&r.ID, &r.Title, &r.Slug, &r.SpaceID, &r.Snippet, &rankValue); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all documents with their head content for full
// reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.slug, d.space_id, d.properties, r.content
		FROM documents d
		JOIN LATERAL (
			SELECT content FROM revisions WHERE document_id = d.id ORDER BY rev DESC LIMIT 1
		) r ON TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		var propertiesRaw []byte
		if err := rows.Scan(&d.ID, &d.Title, &d.Slug, &d.SpaceID, &propertiesRaw, &d.Content); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(propertiesRaw) > 0 {
			_ = json.Unmarshal(propertiesRaw, &d.Properties)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}
