package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-analytics/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

func newMockClient(t *testing.T) (*Client, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewFromPool(mock, &Config{Database: "analytics"}), mock
}

// ===========================================================================
// Construction
// ===========================================================================

func TestNewFromPool_WithConfig(t *testing.T) {
	t.Parallel()
	client, _ := newMockClient(t)
	assert.Equal(t, "analytics", client.databaseName)
	assert.NotNil(t, client.tracer)
	assert.NotNil(t, client.Pool())
}

func TestNewFromPool_NilConfig(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	client := NewFromPool(mock, nil)
	require.NotNil(t, client.config)
	assert.Empty(t, client.databaseName)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), Config{Host: "db", Port: 70000, Database: "a", User: "u"})
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
}

// ===========================================================================
// Statements
// ===========================================================================

func TestClient_Query_Success(t *testing.T) {
	t.Parallel()
	client, mock := newMockClient(t)
	mock.ExpectQuery("SELECT sku, on_hand FROM inventory_levels").
		WillReturnRows(pgxmock.NewRows([]string{"sku", "on_hand"}).
			AddRow("SKU-A", 20).
			AddRow("SKU-B", 50))

	rows, err := client.Query(context.Background(), "SELECT sku, on_hand FROM inventory_levels")
	require.NoError(t, err)
	defer rows.Close()

	var skus []string
	for rows.Next() {
		var sku string
		var onHand int
		require.NoError(t, rows.Scan(&sku, &onHand))
		skus = append(skus, sku)
	}
	assert.Equal(t, []string{"SKU-A", "SKU-B"}, skus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_Query_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want sserr.Code
	}{
		{"database", errors.New("relation does not exist"), sserr.CodeInternalDatabase},
		{"deadline", context.DeadlineExceeded, sserr.CodeTimeoutDatabase},
		{"canceled", context.Canceled, sserr.CodeTimeoutDatabase},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client, mock := newMockClient(t)
			mock.ExpectQuery("SELECT").WillReturnError(tc.err)

			_, err := client.Query(context.Background(), "SELECT 1")
			testutil.RequireErrorCode(t, err, tc.want)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClient_QueryRow(t *testing.T) {
	t.Parallel()
	client, mock := newMockClient(t)
	mock.ExpectQuery("SELECT name").WithArgs("S1").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Acme Parts"))
	mock.ExpectQuery("SELECT name").WithArgs("S9").
		WillReturnRows(pgxmock.NewRows([]string{"name"}))

	var name string
	require.NoError(t, client.QueryRow(context.Background(), "SELECT name FROM supplier_metrics WHERE supplier_id = $1", "S1").Scan(&name))
	assert.Equal(t, "Acme Parts", name)

	err := client.QueryRow(context.Background(), "SELECT name FROM supplier_metrics WHERE supplier_id = $1", "S9").Scan(&name)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestClient_Exec(t *testing.T) {
	t.Parallel()
	client, mock := newMockClient(t)
	mock.ExpectExec("DELETE FROM health_results").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("DELETE FROM health_results").
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})

	tag, err := client.Exec(context.Background(), "DELETE FROM health_results")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tag.RowsAffected())

	_, err = client.Exec(context.Background(), "DELETE FROM health_results")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "42P01", pgErr.Code)
}

func TestClient_Begin(t *testing.T) {
	t.Parallel()
	client, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	tx, err := client.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	_, err = client.Begin(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ===========================================================================
// Health and lifecycle
// ===========================================================================

func TestClient_Health(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	client := NewFromPool(mock, nil)

	mock.ExpectPing()
	require.NoError(t, client.Health(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = client.Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
	assert.True(t, sserr.IsUnavailable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectClose()

	NewFromPool(mock, nil).Close()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWrapError_Nil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, wrapError(nil, "unused"))
}
