package validators

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validatorColumnNames = []string{
	"address", "name", "country", "region", "lat", "lng", "reputation", "specialties",
	"validations_completed", "validations_accepted", "validations_rejected", "avg_response_hours",
	"joined_at", "last_active_at", "status", "contact_email", "contact_phone", "contact_telegram", "contact_twitter",
}

func newMockRepository(t *testing.T) (Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresRepositoryGet(t *testing.T) {
	repo, mock := newMockRepository(t)
	joined := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM validators WHERE address = $1")).
		WithArgs("rA").
		WillReturnRows(sqlmock.NewRows(validatorColumnNames).AddRow(
			"rA", "Awa", "Senegal", "Dakar", 14.69, -17.44, 92.5, "{Water,Health}",
			3, 2, 1, 18.0, joined, joined, "ACTIVE", "awa@example.org", "", "@awa", "",
		))

	v, err := repo.Get(context.Background(), "rA")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "Awa", v.Name)
	assert.Equal(t, []Category{CategoryWater, CategoryHealth}, v.Specialties)
	assert.Equal(t, 92.5, v.Reputation)
	assert.Equal(t, StatusActive, v.Status)
	assert.Equal(t, "@awa", v.Contact.Telegram)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryGetMissing(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM validators WHERE address = $1")).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(validatorColumnNames))

	v, err := repo.Get(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestPostgresRepositoryCreateConflict(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validators")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Create(context.Background(), &Validator{Address: "rA", Name: "Awa", Status: StatusActive})
	assert.ErrorIs(t, err, ErrValidatorExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryUpdate(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE validators SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE validators SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Update(context.Background(), &Validator{Address: "rA", Reputation: 40}))
	assert.ErrorIs(t, repo.Update(context.Background(), &Validator{Address: "rZ"}), ErrValidatorNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryListAndCount(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 ORDER BY joined_at, address")).
		WithArgs("ACTIVE").
		WillReturnRows(sqlmock.NewRows(validatorColumnNames).
			AddRow("rA", "Awa", "", "", 0.0, 0.0, 80.0, "{Water}", 0, 0, 0, 24.0, now, now, "ACTIVE", "", "", "", "").
			AddRow("rB", "Bo", "", "", 1.0, 1.0, 90.0, "{}", 0, 0, 0, 24.0, now, now, "ACTIVE", "", "", "", ""))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM validators")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	list, err := repo.ListByStatus(context.Background(), StatusActive)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rB", list[1].Address)
	assert.Empty(t, list[1].Specialties)

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
