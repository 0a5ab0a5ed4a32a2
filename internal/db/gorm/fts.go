package gorm

import (
	"context"
	"math"
	"strings"
)

// FullTextHit is one pattern matched by the full-text index.
type FullTextHit struct {
	ID int64
	// BM25 is the raw FTS5 rank; more negative is a better match.
	BM25 float64
	// Score maps |BM25| into [0,1), higher is better.
	Score float64
}

// bm25 column weights: description, details, context.
const patternsBM25 = "bm25(learning_patterns_fts, 2.0, 1.0, 1.5)"

// FullTextSearch ranks patterns against query with the FTS5 index. It
// returns nil when the index is unavailable or the query has no usable
// terms.
func (s *PatternStore) FullTextSearch(ctx context.Context, query string, limit int) ([]FullTextHit, error) {
	if !s.store.FullTextEnabled() {
		return nil, nil
	}
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	var rows []struct {
		ID   int64   `gorm:"column:id"`
		Rank float64 `gorm:"column:bm25_rank"`
	}
	err := s.store.do(ctx, "pattern.fulltext", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Raw(`
			SELECT rowid AS id, `+patternsBM25+` AS bm25_rank
			FROM learning_patterns_fts
			WHERE learning_patterns_fts MATCH ?
			ORDER BY bm25_rank
			LIMIT ?`, match, min(limit, MaxPaginationLimit)).Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	hits := make([]FullTextHit, len(rows))
	for i, r := range rows {
		a := math.Abs(r.Rank)
		hits[i] = FullTextHit{ID: r.ID, BM25: r.Rank, Score: a / (1 + a)}
	}
	return hits, nil
}

// ftsMatchExpr turns whitespace separated terms into an OR of quoted
// phrases so user text never reaches the FTS5 query grammar. The trigram
// tokenizer cannot match terms shorter than three characters; those are
// dropped.
func ftsMatchExpr(query string) string {
	var terms []string
	for _, tok := range strings.Fields(query) {
		if len([]rune(tok)) < 3 {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}
