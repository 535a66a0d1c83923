package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"pygrounds-generation-service/internal/domain"
)

// Catalog reads subtopics and their precomputed fragment rankings from
// Postgres. Rankings are written by the embedding pipeline ahead of time;
// this side only ever reads them.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) Units(ctx context.Context, ids []int64) ([]domain.Subtopic, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, name, topic FROM subtopics WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query subtopics: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]domain.Subtopic)
	for rows.Next() {
		var u domain.Subtopic
		if err := rows.Scan(&u.ID, &u.Name, &u.Topic); err != nil {
			return nil, fmt.Errorf("scan subtopic: %w", err)
		}
		byID[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read subtopics: %w", err)
	}

	// preserve request order
	out := make([]domain.Subtopic, 0, len(byID))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (c *Catalog) RankedFragments(ctx context.Context, unitID int64) ([]domain.Fragment, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT fragment, kind, confidence
		 FROM fragment_rankings
		 WHERE subtopic_id = $1
		 ORDER BY confidence DESC`, unitID)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer rows.Close()

	var out []domain.Fragment
	for rows.Next() {
		var f domain.Fragment
		if err := rows.Scan(&f.Text, &f.Type, &f.Confidence); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read fragments: %w", err)
	}
	return out, nil
}
