package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newspulse/internal/domain/entity"
)

func TestFeedHealthRepo_Get_NoRowsYet_ReturnsZeroValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT .+ FROM feed_health WHERE feed_id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{
			"feed_id", "ok_ratio", "consecutive_fails", "avg_response_time_ms",
			"last_success", "last_failure", "uptime_24h", "uptime_7d", "total_articles", "articles_24h",
			"analyzed_count", "analyzed_percentage",
		}))

	repo := NewFeedHealthRepo(db)
	h, err := repo.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.FeedID)
	assert.Zero(t, h.OkRatio)
}

func TestFeedHealthRepo_RecordSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO feed_health").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewFeedHealthRepo(db)
	h := &entity.FeedHealth{FeedID: 5, OkRatio: 0.95, ConsecutiveFails: 0}
	err = repo.RecordSuccess(context.Background(), h)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedHealthRepo_RecordFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO feed_health").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewFeedHealthRepo(db)
	h := &entity.FeedHealth{FeedID: 5, ConsecutiveFails: 3}
	err = repo.RecordFailure(context.Background(), h)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
