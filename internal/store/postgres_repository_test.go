package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
)

func TestPostgresRepositoryLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := mock.NewRows([]string{"records"}).
		AddRow([]byte(`[{"id":0,"user":"0xa","provider":"0xb","amount":"1000","startTime":1000,"duration":30,"isActive":true,"isClaimed":false}]`))
	mock.ExpectQuery("SELECT records FROM ledger_snapshots").WillReturnRows(rows)

	records, err := NewPostgresRepository(mock).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1000", records[0].Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryLoadWithoutSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT records FROM ledger_snapshots").WillReturnError(pgx.ErrNoRows)

	records, err := NewPostgresRepository(mock).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositorySave(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO ledger_snapshots").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewPostgresRepository(mock).Save(context.Background(), []domain.Subscription{{ID: 0, Amount: "1"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositorySaveError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO ledger_snapshots").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = NewPostgresRepository(mock).Save(context.Background(), nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
