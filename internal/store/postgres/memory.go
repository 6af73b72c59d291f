package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/agentdock/memengine/internal/domain"
)

// recordColumns lists every column scanRecord scans in the order every
// query below selects them.
const recordColumns = `id, user_id, agent_id, type, content, importance, resonance, access_count,
	created_at, updated_at, last_accessed_at, keywords, metadata, status,
	never_decay, reinforceable, custom_half_life_days, embedding`

func scanRecord(row pgx.Row) (domain.Record, error) {
	var rec domain.Record
	var metaRaw []byte
	var embedding *pgvector.Vector
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.AgentID, &rec.Type, &rec.Content,
		&rec.Importance, &rec.Resonance, &rec.AccessCount,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.LastAccessedAt,
		&rec.Keywords, &metaRaw, &rec.Status,
		&rec.NeverDecay, &rec.Reinforceable, &rec.CustomHalfLifeDays, &embedding,
	)
	if err != nil {
		return domain.Record{}, err
	}
	if len(metaRaw) > 0 {
		if jsonErr := json.Unmarshal(metaRaw, &rec.Metadata); jsonErr != nil {
			// Malformed metadata resets the field to empty rather than
			// failing the whole read.
			rec.Metadata = nil
		}
	}
	if embedding != nil {
		rec.Embedding = embedding.Slice()
	}
	return rec, nil
}

func (s *Store) StoreRecord(ctx context.Context, rec *domain.Record) (string, error) {
	if rec.ID == "" {
		rec.ID = domain.NewRecordID()
	}
	if rec.Status == "" {
		rec.Status = domain.StatusActive
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", domain.NewError(domain.KindInvalidArgument, "postgres", "storeRecord", err)
	}
	var embedding *pgvector.Vector
	if len(rec.Embedding) > 0 {
		v := pgvector.NewVector(rec.Embedding)
		embedding = &v
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO memories (id, user_id, agent_id, type, content, importance, resonance, access_count,
			created_at, updated_at, last_accessed_at, keywords, metadata, status,
			never_decay, reinforceable, custom_half_life_days, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content, importance = EXCLUDED.importance, resonance = EXCLUDED.resonance,
			updated_at = EXCLUDED.updated_at, keywords = EXCLUDED.keywords, metadata = EXCLUDED.metadata,
			status = EXCLUDED.status, never_decay = EXCLUDED.never_decay,
			reinforceable = EXCLUDED.reinforceable,
			custom_half_life_days = EXCLUDED.custom_half_life_days,
			embedding = EXCLUDED.embedding`,
		rec.ID, rec.UserID, rec.AgentID, rec.Type, rec.Content, rec.Importance, rec.Resonance, rec.AccessCount,
		rec.CreatedAt, rec.UpdatedAt, rec.LastAccessedAt, rec.Keywords, metaJSON, rec.Status,
		rec.NeverDecay, rec.Reinforceable, rec.CustomHalfLifeDays, embedding,
	)
	if err != nil {
		return "", domain.NewError(domain.KindTransient, "postgres", "storeRecord", err)
	}
	return rec.ID, nil
}

func (s *Store) RecallRecords(ctx context.Context, userID, agentID, query string, q domain.RecallQuery) ([]domain.Record, error) {
	conditions := []string{"user_id = $1"}
	if !q.IncludeArchived {
		conditions = append(conditions, "status = 'active'")
	}
	args := []any{userID}

	if agentID != "" {
		args = append(args, agentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if q.Type != nil {
		args = append(args, string(*q.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if query != "" {
		args = append(args, "%"+query+"%")
		conditions = append(conditions, fmt.Sprintf("content ILIKE $%d", len(args)))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	sql := fmt.Sprintf(
		`SELECT %s FROM memories WHERE %s ORDER BY importance DESC, created_at DESC LIMIT $%d`,
		recordColumns, strings.Join(conditions, " AND "), len(args),
	)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "postgres", "recallRecords", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindTransient, "postgres", "recallRecords", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateRecord honors the same patch keys as memstore.applyPatch so both
// providers accept the same patch shape.
func (s *Store) UpdateRecord(ctx context.Context, userID, agentID, id string, patch map[string]any) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{}
	if v, ok := patch["content"].(string); ok {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("content = $%d", len(args)))
	}
	if v, ok := patch["importance"].(float64); ok {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("importance = $%d", len(args)))
	}
	if v, ok := patch["resonance"].(float64); ok {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("resonance = $%d", len(args)))
	}
	if v, ok := patch["status"].(domain.RecordStatus); ok {
		args = append(args, string(v))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}

	args = append(args, id, userID)
	sql := fmt.Sprintf(
		`UPDATE memories SET %s WHERE id = $%d AND user_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args),
	)
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return domain.NewError(domain.KindTransient, "postgres", "updateRecord", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "postgres", "updateRecord", nil)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, userID, agentID, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM memories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return domain.NewError(domain.KindTransient, "postgres", "deleteRecord", err)
	}
	return nil
}

func (s *Store) GetRecordByID(ctx context.Context, userID, id string) (*domain.Record, error) {
	sql := fmt.Sprintf(`SELECT %s FROM memories WHERE id = $1 AND user_id = $2`, recordColumns)
	rec, err := scanRecord(s.db.QueryRow(ctx, sql, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "postgres", "getRecordByID", nil)
		}
		return nil, domain.NewError(domain.KindTransient, "postgres", "getRecordByID", err)
	}
	return &rec, nil
}

func (s *Store) GetStats(ctx context.Context, userID string, agentID *string) (map[string]any, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}
	if agentID != nil {
		args = append(args, *agentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	sql := fmt.Sprintf(
		`SELECT type, COUNT(*) FROM memories WHERE %s GROUP BY type`,
		strings.Join(conditions, " AND "),
	)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "postgres", "getStats", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	total := 0
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, domain.NewError(domain.KindTransient, "postgres", "getStats", err)
		}
		counts[t] = n
		total += n
	}
	return map[string]any{"total": total, "byType": counts}, rows.Err()
}

// BatchUpdateMemories applies every update in one transaction,
// all-or-nothing, inside an explicit pgx.Tx so a flush is atomic per call.
func (s *Store) BatchUpdateMemories(ctx context.Context, updates []domain.MemoryUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.NewError(domain.KindTransient, "postgres", "batchUpdateMemories", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(
			`UPDATE memories SET resonance = $1, access_count = $2, last_accessed_at = $3, updated_at = NOW()
			 WHERE id = $4`,
			u.Resonance, u.AccessCount, time.UnixMilli(u.LastAccessedAt), u.ID,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range updates {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return domain.NewError(domain.KindTransient, "postgres", "batchUpdateMemories", err)
		}
	}
	if err := br.Close(); err != nil {
		return domain.NewError(domain.KindTransient, "postgres", "batchUpdateMemories", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.NewError(domain.KindTransient, "postgres", "batchUpdateMemories", err)
	}
	return nil
}

// CreateConnections validates both endpoints belong to userID inside one
// transaction and upserts on (source, target, type).
func (s *Store) CreateConnections(ctx context.Context, userID string, edges []domain.Connection) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.NewError(domain.KindTransient, "postgres", "createConnections", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range edges {
		var srcUser, dstUser string
		if err := tx.QueryRow(ctx, `SELECT user_id FROM memories WHERE id = $1`, e.SourceMemoryID).Scan(&srcUser); err != nil {
			return domain.NewError(domain.KindConflict, "postgres", "createConnections", err)
		}
		if err := tx.QueryRow(ctx, `SELECT user_id FROM memories WHERE id = $1`, e.TargetMemoryID).Scan(&dstUser); err != nil {
			return domain.NewError(domain.KindConflict, "postgres", "createConnections", err)
		}
		if srcUser != userID || dstUser != userID {
			return domain.NewError(domain.KindConflict, "postgres", "createConnections", nil)
		}

		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return domain.NewError(domain.KindInvalidArgument, "postgres", "createConnections", err)
		}
		id := e.ID
		if id == "" {
			id = domain.NewConnectionID()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO memory_connections (id, source_memory_id, target_memory_id, user_id, connection_type, strength, reason, created_at, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (source_memory_id, target_memory_id, connection_type) DO UPDATE
			 SET strength = EXCLUDED.strength, reason = EXCLUDED.reason, metadata = EXCLUDED.metadata`,
			id, e.SourceMemoryID, e.TargetMemoryID, userID, e.ConnectionType, e.Strength, e.Reason, e.CreatedAt, metaJSON,
		)
		if err != nil {
			return domain.NewError(domain.KindTransient, "postgres", "createConnections", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.NewError(domain.KindTransient, "postgres", "createConnections", err)
	}
	return nil
}

// FindConnectedMemories does a depth-bounded BFS, one round trip per
// hop rather than a recursive CTE, so the hop limit maps directly onto
// the loop bound.
func (s *Store) FindConnectedMemories(ctx context.Context, userID, id string, depth int) (domain.ConnectedResult, error) {
	visited := map[string]bool{id: true}
	frontier := []string{id}
	var edgesOut []domain.Connection

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		rows, err := s.db.Query(ctx,
			`SELECT id, source_memory_id, target_memory_id, user_id, connection_type, strength, reason, created_at, metadata
			 FROM memory_connections
			 WHERE user_id = $1 AND (source_memory_id = ANY($2) OR target_memory_id = ANY($2))`,
			userID, frontier,
		)
		if err != nil {
			return domain.ConnectedResult{}, domain.NewError(domain.KindTransient, "postgres", "findConnectedMemories", err)
		}

		var next []string
		for rows.Next() {
			var c domain.Connection
			var metaRaw []byte
			if err := rows.Scan(&c.ID, &c.SourceMemoryID, &c.TargetMemoryID, &c.UserID, &c.ConnectionType, &c.Strength, &c.Reason, &c.CreatedAt, &metaRaw); err != nil {
				rows.Close()
				return domain.ConnectedResult{}, domain.NewError(domain.KindTransient, "postgres", "findConnectedMemories", err)
			}
			if len(metaRaw) > 0 {
				_ = json.Unmarshal(metaRaw, &c.Metadata)
			}
			neighbor := c.TargetMemoryID
			if visited[neighbor] {
				neighbor = c.SourceMemoryID
			}
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true
			edgesOut = append(edgesOut, c)
			next = append(next, neighbor)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return domain.ConnectedResult{}, domain.NewError(domain.KindTransient, "postgres", "findConnectedMemories", err)
		}
		frontier = next
	}

	ids := make([]string, 0, len(visited))
	for nodeID := range visited {
		ids = append(ids, nodeID)
	}
	sql := fmt.Sprintf(`SELECT %s FROM memories WHERE id = ANY($1) AND user_id = $2`, recordColumns)
	rows, err := s.db.Query(ctx, sql, ids, userID)
	if err != nil {
		return domain.ConnectedResult{}, domain.NewError(domain.KindTransient, "postgres", "findConnectedMemories", err)
	}
	defer rows.Close()

	var memories []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return domain.ConnectedResult{}, domain.NewError(domain.KindTransient, "postgres", "findConnectedMemories", err)
		}
		memories = append(memories, rec)
	}
	return domain.ConnectedResult{Memories: memories, Connections: edgesOut}, rows.Err()
}
