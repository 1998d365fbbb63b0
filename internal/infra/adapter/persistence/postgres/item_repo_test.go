package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

func TestItemRepo_InsertItemIfAbsent_Inserted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("INSERT INTO items").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))

	repo := NewItemRepo(db)
	item := &entity.Item{FeedID: 1, Title: "t", Link: "https://x", Description: "d"}
	got, result, err := repo.InsertItemIfAbsent(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, repository.Inserted, result)
	assert.Equal(t, int64(1), got.ID)
	assert.NotEmpty(t, item.ContentHash)
}

func TestItemRepo_InsertItemIfAbsent_Duplicate_PgError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("INSERT INTO items").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	repo := NewItemRepo(db)
	item := &entity.Item{FeedID: 1, Title: "t", Link: "https://x", Description: "d"}
	got, result, err := repo.InsertItemIfAbsent(context.Background(), item)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, repository.Duplicate, result)
}

func TestItemRepo_InsertItemIfAbsent_Duplicate_StringFallback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("INSERT INTO items").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "items_content_hash_key"`))

	repo := NewItemRepo(db)
	item := &entity.Item{FeedID: 1, Title: "t", Link: "https://x", Description: "d"}
	_, result, err := repo.InsertItemIfAbsent(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, repository.Duplicate, result)
}

func TestItemRepo_InsertItemIfAbsent_OtherError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("INSERT INTO items").WillReturnError(errors.New("connection reset"))

	repo := NewItemRepo(db)
	item := &entity.Item{FeedID: 1, Title: "t", Link: "https://x", Description: "d"}
	_, _, err = repo.InsertItemIfAbsent(context.Background(), item)
	assert.Error(t, err)
}

func TestItemRepo_GetByIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{
		"id", "feed_id", "title", "link", "description", "content", "author", "published", "created_at", "content_hash",
	}).AddRow(int64(1), int64(1), "t", "https://x", "d", "", "", time.Now(), time.Now(), "hash1")

	mock.ExpectQuery("SELECT .+ FROM items WHERE id = ANY").WillReturnRows(rows)

	repo := NewItemRepo(db)
	items, err := repo.GetByIDs(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestItemRepo_CountByFeedSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM items").
		WithArgs(int64(1), 24).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	repo := NewItemRepo(db)
	n, err := repo.CountByFeedSince(context.Background(), 1, 24)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
