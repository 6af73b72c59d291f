package postgres

import (
	"context"
	"fmt"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/agentdock/memengine/internal/domain"
)

// VectorUpsert stores embedding directly on the owning memory row (pgvector
// column) rather than a separate table, since every embedding here belongs
// to exactly one memory.
func (s *Store) VectorUpsert(ctx context.Context, id string, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	tag, err := s.db.Exec(ctx, `UPDATE memories SET embedding = $1 WHERE id = $2`, vec, id)
	if err != nil {
		return domain.NewError(domain.KindTransient, "postgres", "vectorUpsert", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "postgres", "vectorUpsert", nil)
	}
	return nil
}

// VectorQuery ranks by cosine distance using pgvector's `<=>` operator
// (`1 - (embedding <=> $1)`).
func (s *Store) VectorQuery(ctx context.Context, embedding []float32, k int, filters domain.VectorFilters) ([]domain.VectorMatch, error) {
	vec := pgvector.NewVector(embedding)

	conditions := []string{"embedding IS NOT NULL", "status = 'active'"}
	args := []any{vec}
	if filters.UserID != "" {
		args = append(args, filters.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filters.AgentID != "" {
		args = append(args, filters.AgentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if filters.Type != nil {
		args = append(args, string(*filters.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if k <= 0 {
		k = 10
	}
	args = append(args, k)

	sql := fmt.Sprintf(
		`SELECT id, 1 - (embedding <=> $1) AS score FROM memories
		 WHERE %s
		 ORDER BY embedding <=> $1
		 LIMIT $%d`,
		strings.Join(conditions, " AND "), len(args),
	)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "postgres", "vectorQuery", err)
	}
	defer rows.Close()

	var matches []domain.VectorMatch
	for rows.Next() {
		var m domain.VectorMatch
		if err := rows.Scan(&m.ID, &m.Score); err != nil {
			return nil, domain.NewError(domain.KindTransient, "postgres", "vectorQuery", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *Store) VectorDelete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE memories SET embedding = NULL WHERE id = $1`, id)
	if err != nil {
		return domain.NewError(domain.KindTransient, "postgres", "vectorDelete", err)
	}
	return nil
}
