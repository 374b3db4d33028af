// Package user is the read side of the identity provider: display names and
// the has-read-guide flag.
package user

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"backend-tagmap/internal/db"
	"backend-tagmap/internal/domain"

	"github.com/jackc/pgx/v5"
)

type Directory interface {
	DisplayName(ctx context.Context, uid string) (string, error)
	DisplayNames(ctx context.Context, uids []string) (map[string]string, error)
	HasReadGuide(ctx context.Context, uid string) (bool, error)
	SetHasReadGuide(ctx context.Context, uid string) error
}

type Postgres struct {
	db db.Querier
}

func NewPostgres(q db.Querier) *Postgres {
	return &Postgres{db: q}
}

// DisplayName returns an empty name for users the directory does not know.
func (p *Postgres) DisplayName(ctx context.Context, uid string) (string, error) {
	var name string
	err := p.db.QueryRow(ctx, `SELECT display_name FROM users WHERE id = $1`, uid).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func (p *Postgres) DisplayNames(ctx context.Context, uids []string) (map[string]string, error) {
	names := map[string]string{}
	if len(uids) == 0 {
		return names, nil
	}
	rows, err := p.db.Query(ctx, `SELECT id, display_name FROM users WHERE id = ANY($1)`, uids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (p *Postgres) HasReadGuide(ctx context.Context, uid string) (bool, error) {
	var read bool
	err := p.db.QueryRow(ctx, `SELECT has_read_guide FROM users WHERE id = $1`, uid).Scan(&read)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%w: user %s", domain.ErrNotFound, uid)
	}
	return read, err
}

func (p *Postgres) SetHasReadGuide(ctx context.Context, uid string) error {
	tag, err := p.db.Exec(ctx, `UPDATE users SET has_read_guide = TRUE, updated_at = now() WHERE id = $1`, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, uid)
	}
	return nil
}

// Memory backs the in-memory store mode. Unknown users are created on first
// write so tokens minted by the operator CLI work without registration.
type Memory struct {
	mu    sync.RWMutex
	names map[string]string
	guide map[string]bool
}

func NewMemory() *Memory {
	return &Memory{names: map[string]string{}, guide: map[string]bool{}}
}

func (m *Memory) Put(uid, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[uid] = name
}

func (m *Memory) DisplayName(_ context.Context, uid string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.names[uid], nil
}

func (m *Memory) DisplayNames(_ context.Context, uids []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(uids))
	for _, uid := range uids {
		if name, ok := m.names[uid]; ok {
			out[uid] = name
		}
	}
	return out, nil
}

func (m *Memory) HasReadGuide(_ context.Context, uid string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guide[uid], nil
}

func (m *Memory) SetHasReadGuide(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guide[uid] = true
	return nil
}
