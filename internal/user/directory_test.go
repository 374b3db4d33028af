package user

import (
	"context"
	"errors"
	"testing"

	"backend-tagmap/internal/domain"

	"github.com/pashagolub/pgxmock/v3"
)

func TestPostgresDisplayNames(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, display_name FROM users WHERE id = ANY\(\$1\)`).
		WithArgs([]string{"u1", "u2"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "display_name"}).AddRow("u1", "Alice"))

	dir := NewPostgres(mock)
	names, err := dir.DisplayNames(context.Background(), []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("display names: %v", err)
	}
	if names["u1"] != "Alice" || len(names) != 1 {
		t.Fatalf("unexpected names %v", names)
	}

	empty, err := dir.DisplayNames(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty lookup without a query")
	}
}

func TestPostgresDisplayNameUnknown(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT display_name FROM users`).WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"display_name"}))
	name, err := NewPostgres(mock).DisplayName(context.Background(), "ghost")
	if err != nil || name != "" {
		t.Fatalf("expected empty name, got %q %v", name, err)
	}
}

func TestPostgresGuideFlag(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()
	dir := NewPostgres(mock)

	mock.ExpectExec(`UPDATE users SET has_read_guide = TRUE`).WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := dir.SetHasReadGuide(context.Background(), "u1"); err != nil {
		t.Fatalf("set guide: %v", err)
	}

	mock.ExpectQuery(`SELECT has_read_guide FROM users`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"has_read_guide"}).AddRow(true))
	read, err := dir.HasReadGuide(context.Background(), "u1")
	if err != nil || !read {
		t.Fatalf("expected guide read, got %v %v", read, err)
	}

	mock.ExpectExec(`UPDATE users SET has_read_guide`).WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := dir.SetHasReadGuide(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemory()
	dir.Put("u1", "Alice")
	names, _ := dir.DisplayNames(context.Background(), []string{"u1", "u2"})
	if names["u1"] != "Alice" || len(names) != 1 {
		t.Fatalf("unexpected names %v", names)
	}
	read, _ := dir.HasReadGuide(context.Background(), "u1")
	if read {
		t.Fatalf("guide should start unread")
	}
	_ = dir.SetHasReadGuide(context.Background(), "u1")
	read, _ = dir.HasReadGuide(context.Background(), "u1")
	if !read {
		t.Fatalf("guide should be read")
	}
}
