package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/agentdock/memengine/internal/domain"
)

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return "default"
	}
	return ns
}

func (s *Store) Get(ctx context.Context, key string, opts *domain.SetOptions) ([]byte, bool, error) {
	ns := "default"
	if opts != nil {
		ns = namespaceOrDefault(opts.Namespace)
	}
	var value []byte
	err := s.db.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE namespace = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > NOW())`,
		ns, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, opts *domain.SetOptions) error {
	ns := "default"
	var ttlSeconds int64
	if opts != nil {
		ns = namespaceOrDefault(opts.Namespace)
		ttlSeconds = opts.TTLSeconds
	}
	var expiresAtExpr string
	var args []any
	args = append(args, ns, key, value)
	if ttlSeconds > 0 {
		expiresAtExpr = "NOW() + make_interval(secs => $4)"
		args = append(args, ttlSeconds)
	} else {
		expiresAtExpr = "NULL"
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO kv_entries (namespace, key, value, expires_at)
		 VALUES ($1, $2, $3, `+expiresAtExpr+`)
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		args...,
	)
	return err
}

func (s *Store) Delete(ctx context.Context, key string, namespace string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`,
		namespaceOrDefault(namespace), key,
	)
	return err
}

func (s *Store) Exists(ctx context.Context, key string, namespace string) (bool, error) {
	_, ok, err := s.Get(ctx, key, &domain.SetOptions{Namespace: namespace})
	return ok, err
}

func (s *Store) GetMany(ctx context.Context, keys []string, namespace string) (map[string][]byte, error) {
	rows, err := s.db.Query(ctx,
		`SELECT key, value FROM kv_entries
		 WHERE namespace = $1 AND key = ANY($2) AND (expires_at IS NULL OR expires_at > NOW())`,
		namespaceOrDefault(namespace), keys,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) SetMany(ctx context.Context, values map[string][]byte, opts *domain.SetOptions) error {
	for k, v := range values {
		if err := s.Set(ctx, k, v, opts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, keys []string, namespace string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM kv_entries WHERE namespace = $1 AND key = ANY($2)`,
		namespaceOrDefault(namespace), keys,
	)
	return err
}

func (s *Store) List(ctx context.Context, prefix string, opts domain.ListOptions) ([]string, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(ctx,
		`SELECT key FROM kv_entries
		 WHERE namespace = $1 AND key LIKE $2
		 ORDER BY key
		 OFFSET $3 LIMIT $4`,
		namespaceOrDefault(opts.Namespace), prefix+"%", opts.Offset, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Clear(ctx context.Context, prefix string, namespace string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM kv_entries WHERE namespace = $1 AND key LIKE $2`,
		namespaceOrDefault(namespace), prefix+"%",
	)
	return err
}

func (s *Store) GetList(ctx context.Context, key string, namespace string) ([]string, error) {
	var values []string
	err := s.db.QueryRow(ctx,
		`SELECT items FROM list_entries WHERE namespace = $1 AND key = $2`,
		namespaceOrDefault(namespace), key,
	).Scan(&values)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return values, nil
}

func (s *Store) SaveList(ctx context.Context, key string, values []string, namespace string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO list_entries (namespace, key, items)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, key) DO UPDATE SET items = EXCLUDED.items`,
		namespaceOrDefault(namespace), key, values,
	)
	return err
}

func (s *Store) DeleteList(ctx context.Context, key string, namespace string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM list_entries WHERE namespace = $1 AND key = $2`,
		namespaceOrDefault(namespace), key,
	)
	return err
}
