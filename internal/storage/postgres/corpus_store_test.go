package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

func TestNewWithPoolValidatesPrefix(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "")
	require.Error(t, err)
	_, err = NewWithPool(mock, "bad-prefix;")
	require.Error(t, err)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "renec_standards", store.standards)
}

func TestMergeBatchUpsertsInOneTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "renec")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	batch := renec.Harvest{
		Committees: []renec.Committee{{ID: 3, Name: "Comité", HarvestedAt: at}},
		Standards:  []renec.ECStandard{{Code: "EC0217", Title: "Cursos", SourceVersion: "abc", HarvestedAt: at}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO renec_committees").
		WithArgs("3", pgxmock.AnyArg(), "", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO renec_standards").
		WithArgs("EC0217", pgxmock.AnyArg(), "abc", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.MergeBatch(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeBatchRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "renec")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO renec_standards").
		WithArgs("EC1", pgxmock.AnyArg(), "", pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.MergeBatch(context.Background(), renec.Harvest{Standards: []renec.ECStandard{{Code: "EC1"}}})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotPreservesOrder(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "renec")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT doc FROM renec_committees ORDER BY seq").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"id":2,"nombre":"B"}`)).
			AddRow([]byte(`{"id":1,"nombre":"A"}`)))
	mock.ExpectQuery("SELECT doc FROM renec_standards ORDER BY seq").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"codigo":"EC9","titulo":"Nueve","certificadores":[{"nombre":"X","tipo":"ECE"}]}`)))

	corpus, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, corpus.Committees, 2)
	assert.Equal(t, 2, corpus.Committees[0].ID)
	require.Len(t, corpus.Standards, 1)
	assert.Equal(t, "X", corpus.Standards[0].Certifiers[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVersions(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "renec")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT key, source_version FROM renec_standards").
		WillReturnRows(pgxmock.NewRows([]string{"key", "source_version"}).
			AddRow("EC1", "v1").
			AddRow("EC2", ""))

	versions, err := store.Versions(context.Background(), renec.StageECDetails)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"EC1": "v1", "EC2": ""}, versions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDerivedWritesNamedDocuments(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "renec")
	require.NoError(t, err)

	at := time.Unix(1700000500, 0).UTC()
	mock.ExpectBegin()
	for _, name := range []string{"stats", "certifier_registry", "training_registry", "ec_certifier_matrix"} {
		mock.ExpectExec("INSERT INTO renec_snapshots").
			WithArgs(name, pgxmock.AnyArg(), at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	err = store.SaveDerived(context.Background(), renec.Derived{Stats: renec.ExtractionStats{GeneratedAt: at}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "renec")
	require.NoError(t, err)

	for _, table := range []string{"renec_committees", "renec_standards", "renec_snapshots"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
