package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// commentTSV is the search vector of one element of comment_lists.records.
const commentTSV = `to_tsvector('english', coalesce(c->>'text', '') || ' ' || coalesce(c->>'selectedText', ''))`

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over document_contents and the comments held in
// comment_lists, ranked with ts_rank, with ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	docFilter, commentFilter := "", ""
	if q.FilterDocumentID != "" {
		args = append(args, q.FilterDocumentID)
		docFilter = " AND d.document_id = $2"
		commentFilter = " AND cl.document_key = 'comments:' || $2"
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.document_id AS id,
				split_part(d.plain_text, E'\n', 1) AS title,
				ts_headline('english', d.plain_text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.document_id, 0 AS number, ''::text AS color,
				ts_rank(d.fts, %s) AS rank
			FROM document_contents d
			WHERE d.fts @@ %s%s`, tsQuery, tsQuery, tsQuery, docFilter))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c->>'id' AS id,
				coalesce(c->>'selectedText', '') AS title,
				ts_headline('english', coalesce(c->>'text', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				substr(cl.document_key, length('comments:') + 1) AS document_id,
				coalesce((c->>'number')::int, 0) AS number,
				coalesce(c->>'color', '') AS color,
				ts_rank(%s, %s) AS rank
			FROM comment_lists cl, jsonb_array_elements(cl.records) c
			WHERE %s @@ %s%s`, tsQuery, commentTSV, tsQuery, commentTSV, tsQuery, commentFilter))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, number, color
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.Number, &r.Color); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CommentRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT document_id, split_part(plain_text, E'\n', 1), plain_text
		FROM document_contents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.Text); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c->>'id', substr(cl.document_key, length('comments:') + 1),
			coalesce((c->>'number')::int, 0), coalesce(c->>'color', ''),
			coalesce(c->>'text', ''), coalesce(c->>'selectedText', '')
		FROM comment_lists cl, jsonb_array_elements(cl.records) c
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.DocumentID, &c.Number, &c.Color, &c.Text, &c.SelectedText); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return documents, comments, nil
}
