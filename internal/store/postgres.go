package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-tagmap/internal/db"
	"backend-tagmap/internal/domain"

	"github.com/jackc/pgx/v5"
)

const tagColumns = `t.id, t.location_name, t.accessibility, t.mission_name, t.sub_type_name, t.target_name,
	t.latitude, t.longitude, t.floor, t.description, t.street_view, t.view_count,
	t.create_user_id, t.created_at, t.last_updated_at`

const statusColumns = `id, tag_id, status_name, created_at, create_user_id, description, number_of_up_vote, has_up_vote`

// Postgres serializes writers to a tag with SELECT ... FOR UPDATE. Within one
// process a tag is additionally held from Begin until its after-commit hooks
// return, so events leave in ledger order; across processes they carry the
// record timestamp instead.
type Postgres struct {
	db    db.Querier
	locks keyedMutex
}

func NewPostgres(q db.Querier) *Postgres {
	return &Postgres{db: q, locks: keyedMutex{locks: make(map[string]*refLock)}}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTag(row scanner, extra ...any) (domain.Tag, error) {
	var (
		t          domain.Tag
		streetView []byte
	)
	dest := []any{
		&t.ID, &t.LocationName, &t.Accessibility, &t.Category.MissionName, &t.Category.SubTypeName, &t.Category.TargetName,
		&t.Point.Lat, &t.Point.Lng, &t.Floor, &t.Description, &streetView, &t.ViewCount,
		&t.CreateUser.ID, &t.CreateTime, &t.LastUpdateTime,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Tag{}, err
	}
	if len(streetView) > 0 {
		var sv domain.StreetView
		if err := json.Unmarshal(streetView, &sv); err != nil {
			return domain.Tag{}, fmt.Errorf("decode street view of tag %s: %w", t.ID, err)
		}
		t.StreetView = &sv
	}
	t.CreateTime = t.CreateTime.UTC()
	t.LastUpdateTime = t.LastUpdateTime.UTC()
	return t, nil
}

func scanStatus(row scanner) (domain.StatusRecord, error) {
	var r domain.StatusRecord
	err := row.Scan(&r.ID, &r.TagID, &r.StatusName, &r.CreateTime, &r.CreateUser.ID, &r.Description, &r.NumberOfUpVote, &r.HasUpVote)
	r.CreateTime = r.CreateTime.UTC()
	return r, err
}

func encodeStreetView(sv *domain.StreetView) ([]byte, error) {
	if sv == nil {
		return nil, nil
	}
	return json.Marshal(sv)
}

func (s *Postgres) CreateTag(ctx context.Context, tag domain.Tag, fn func(Tx) error) error {
	streetView, err := encodeStreetView(tag.StreetView)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(tag.ID)
	defer unlock()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tags (id, location_name, accessibility, mission_name, sub_type_name, target_name,
			latitude, longitude, floor, description, street_view, view_count,
			create_user_id, created_at, last_updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, tag.ID, tag.LocationName, tag.Accessibility, tag.Category.MissionName, tag.Category.SubTypeName, tag.Category.TargetName,
		tag.Point.Lat, tag.Point.Lng, tag.Floor, tag.Description, streetView, tag.ViewCount,
		tag.CreateUser.ID, tag.CreateTime, tag.LastUpdateTime)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return s.run(ctx, tx, tag.ID, fn)
}

func (s *Postgres) WithTag(ctx context.Context, tagID string, fn func(Tx) error) error {
	unlock := s.locks.Lock(tagID)
	defer unlock()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	var id string
	if err := tx.QueryRow(ctx, `SELECT id FROM tags WHERE id = $1 FOR UPDATE`, tagID).Scan(&id); err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
		}
		return err
	}
	return s.run(ctx, tx, tagID, fn)
}

func (s *Postgres) run(ctx context.Context, tx pgx.Tx, tagID string, fn func(Tx) error) error {
	ptx := &pgTx{tx: tx, tagID: tagID}
	if err := fn(ptx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return runHooks(ctx, ptx.hooks)
}

func (s *Postgres) GetTag(ctx context.Context, tagID string) (domain.Tag, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tagColumns+` FROM tags t WHERE t.id = $1`, tagID)
	t, err := scanTag(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tag{}, fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	return t, err
}

func (s *Postgres) tagExists(ctx context.Context, tagID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tags WHERE id = $1)`, tagID).Scan(&exists)
	return exists, err
}

func (s *Postgres) StatusHistory(ctx context.Context, tagID string) ([]domain.StatusRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+statusColumns+`
		FROM status_records
		WHERE tag_id = $1
		ORDER BY created_at ASC
	`, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.StatusRecord
	for rows.Next() {
		r, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		exists, err := s.tagExists(ctx, tagID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
		}
	}
	return history, nil
}

func (s *Postgres) LatestStatus(ctx context.Context, tagID string) (domain.StatusRecord, error) {
	r, found, err := latestStatus(ctx, s.db, tagID)
	if err != nil || found {
		return r, err
	}
	exists, err := s.tagExists(ctx, tagID)
	if err != nil {
		return domain.StatusRecord{}, err
	}
	if !exists {
		return domain.StatusRecord{}, fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	return domain.StatusRecord{}, fmt.Errorf("%w: tag %s", domain.ErrEmptyLedger, tagID)
}

func latestStatus(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, tagID string) (domain.StatusRecord, bool, error) {
	row := q.QueryRow(ctx, `
		SELECT `+statusColumns+`
		FROM status_records
		WHERE tag_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, tagID)
	r, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StatusRecord{}, false, nil
	}
	if err != nil {
		return domain.StatusRecord{}, false, err
	}
	return r, true, nil
}

func (s *Postgres) CountVotes(ctx context.Context, tagID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM up_votes WHERE tag_id = $1`, tagID).Scan(&n)
	return n, err
}

func (s *Postgres) HasVote(ctx context.Context, tagID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM up_votes WHERE tag_id = $1 AND user_id = $2)`, tagID, userID).Scan(&exists)
	return exists, err
}

// ListTags pairs each tag with its latest status record in one statement so
// a page never mixes two views of the same tag.
func (s *Postgres) ListTags(ctx context.Context, q ListQuery) ([]domain.Tag, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.After != nil {
		conds = append(conds, fmt.Sprintf("(t.created_at, t.id) < (%s, %s)", arg(q.After.CreatedAt), arg(q.After.ID)))
	}
	if q.ExcludeStatus != "" {
		conds = append(conds, "s.status_name <> "+arg(q.ExcludeStatus))
	}
	if q.CreatedBy != "" {
		conds = append(conds, "t.create_user_id = "+arg(q.CreatedBy))
	}
	if q.Box != nil {
		conds = append(conds, fmt.Sprintf("t.latitude BETWEEN %s AND %s AND t.longitude BETWEEN %s AND %s",
			arg(q.Box.MinLat), arg(q.Box.MaxLat), arg(q.Box.MinLng), arg(q.Box.MaxLng)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + tagColumns + `,
		s.id, s.tag_id, s.status_name, s.created_at, s.create_user_id, s.description, s.number_of_up_vote, s.has_up_vote
		FROM tags t
		JOIN LATERAL (
			SELECT ` + statusColumns + `
			FROM status_records
			WHERE tag_id = t.id
			ORDER BY created_at DESC
			LIMIT 1
		) s ON TRUE`)
	if len(conds) > 0 {
		b.WriteString("\n\t\tWHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString("\n\t\tORDER BY t.created_at DESC, t.id DESC")
	if q.Limit > 0 {
		b.WriteString("\n\t\tLIMIT " + arg(q.Limit))
	}

	rows, err := s.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Tag
	for rows.Next() {
		var r domain.StatusRecord
		t, err := scanTag(rows, &r.ID, &r.TagID, &r.StatusName, &r.CreateTime, &r.CreateUser.ID, &r.Description, &r.NumberOfUpVote, &r.HasUpVote)
		if err != nil {
			return nil, err
		}
		r.CreateTime = r.CreateTime.UTC()
		t.Status = &r
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) IncrementViewCount(ctx context.Context, tagID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE tags SET view_count = view_count + 1 WHERE id = $1`, tagID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	return nil
}

type pgTx struct {
	tx    pgx.Tx
	tagID string
	hooks []func(context.Context) error
}

func (t *pgTx) TagID() string { return t.tagID }

func (t *pgTx) Tag(ctx context.Context) (domain.Tag, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+tagColumns+` FROM tags t WHERE t.id = $1`, t.tagID)
	tag, err := scanTag(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tag{}, fmt.Errorf("%w: tag %s", domain.ErrNotFound, t.tagID)
	}
	return tag, err
}

func (t *pgTx) UpdateTag(ctx context.Context, tag domain.Tag) error {
	streetView, err := encodeStreetView(tag.StreetView)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE tags SET location_name = $2, accessibility = $3, mission_name = $4, sub_type_name = $5,
			target_name = $6, latitude = $7, longitude = $8, floor = $9, description = $10,
			street_view = $11, last_updated_at = $12
		WHERE id = $1
	`, t.tagID, tag.LocationName, tag.Accessibility, tag.Category.MissionName, tag.Category.SubTypeName,
		tag.Category.TargetName, tag.Point.Lat, tag.Point.Lng, tag.Floor, tag.Description,
		streetView, tag.LastUpdateTime)
	return err
}

func (t *pgTx) LatestStatus(ctx context.Context) (domain.StatusRecord, bool, error) {
	return latestStatus(ctx, t.tx, t.tagID)
}

func (t *pgTx) InsertStatus(ctx context.Context, rec domain.StatusRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO status_records (`+statusColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.ID, t.tagID, rec.StatusName, rec.CreateTime, rec.CreateUser.ID, rec.Description, rec.NumberOfUpVote, rec.HasUpVote)
	return err
}

func (t *pgTx) HasVote(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM up_votes WHERE tag_id = $1 AND user_id = $2)`, t.tagID, userID).Scan(&exists)
	return exists, err
}

func (t *pgTx) AddVote(ctx context.Context, userID string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO up_votes (tag_id, user_id, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (tag_id, user_id) DO NOTHING
	`, t.tagID, userID, at)
	return err
}

func (t *pgTx) RemoveVote(ctx context.Context, userID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM up_votes WHERE tag_id = $1 AND user_id = $2`, t.tagID, userID)
	return err
}

func (t *pgTx) CountVotes(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT count(*) FROM up_votes WHERE tag_id = $1`, t.tagID).Scan(&n)
	return n, err
}

func (t *pgTx) ResetVotes(ctx context.Context) (int, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM up_votes WHERE tag_id = $1`, t.tagID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) AfterCommit(fn func(ctx context.Context) error) {
	t.hooks = append(t.hooks, fn)
}
