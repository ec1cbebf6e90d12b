package datastore_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/service-notification-processor/internal/notifier/datastore"
)

// fakeDB is an in-memory stand-in for PostgresDB, enough to exercise
// LoginRepository without a live database.
type fakeDB struct {
	rows map[[2]string]bool // (user_id, client_id) -> exists
}

func newFakeDB() *fakeDB { return &fakeDB{rows: map[[2]string]bool{}} }

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (datastore.CommandTag, error) {
	userID, clientID := args[0].(string), args[1].(string)
	f.rows[[2]string{userID, clientID}] = true
	return fakeTag{1}, nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (datastore.Rows, error) {
	userID := args[0].(string)
	var clientIDs []string
	for k := range f.rows {
		if k[0] == userID {
			clientIDs = append(clientIDs, k[1])
		}
	}
	sort.Strings(clientIDs)
	return &fakeRows{clientIDs: clientIDs, idx: -1}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) datastore.Row { return nil }
func (f *fakeDB) Close()                                                                      {}
func (f *fakeDB) Ping(ctx context.Context) error                                               { return nil }
func (f *fakeDB) Stats() datastore.Stats                                                       { return datastore.Stats{} }

type fakeTag struct{ n int64 }

func (t fakeTag) RowsAffected() int64 { return t.n }

type fakeRows struct {
	clientIDs []string
	idx       int
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.clientIDs)
}
func (r *fakeRows) Scan(dest ...interface{}) error {
	p, ok := dest[0].(*string)
	if !ok {
		return errors.New("fakeRows: unexpected scan target")
	}
	*p = r.clientIDs[r.idx]
	return nil
}

func TestStoreLogin_Idempotent(t *testing.T) {
	db := newFakeDB()
	repo := datastore.NewLoginRepository(db)

	require.NoError(t, repo.StoreLogin(context.Background(), "U1", "C1"))
	require.NoError(t, repo.StoreLogin(context.Background(), "U1", "C1"))

	ids, err := repo.FetchClientIDs(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, ids)
}

func TestFetchClientIDs_NoDuplicates(t *testing.T) {
	db := newFakeDB()
	repo := datastore.NewLoginRepository(db)

	require.NoError(t, repo.StoreLogin(context.Background(), "U1", "C1"))
	require.NoError(t, repo.StoreLogin(context.Background(), "U1", "C2"))
	require.NoError(t, repo.StoreLogin(context.Background(), "U1", "C1"))

	ids, err := repo.FetchClientIDs(context.Background(), "U1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"C1", "C2"}, ids)
}

func TestFetchClientIDs_UnknownUser(t *testing.T) {
	db := newFakeDB()
	repo := datastore.NewLoginRepository(db)

	ids, err := repo.FetchClientIDs(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
