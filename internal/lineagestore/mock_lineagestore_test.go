package lineagestore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ardenflux/taskledger/internal/lineagestore"
)

func TestMockStore_SaveLoadDelete(t *testing.T) {
	store := lineagestore.NewMockStore()

	snap := lineagestore.Snapshot{
		TaskID:                   "t1",
		SpecBlob:                 []byte("blob"),
		NumRetriesLeft:           -1,
		Pending:                  true,
		ReconstructableReturnIDs: []string{"o1"},
	}
	assert.NoError(t, store.Save(snap))

	loaded, err := store.Load("t1")
	assert.NoError(t, err)
	assert.Equal(t, snap, loaded)

	all, err := store.LoadAll()
	assert.NoError(t, err)
	assert.Len(t, all, 1)

	assert.NoError(t, store.Delete("t1"))
	_, err = store.Load("t1")
	assert.ErrorIs(t, err, lineagestore.ErrNotFound)
}

func TestMockStore_BeginCommitBlocksFurtherWrites(t *testing.T) {
	store := lineagestore.NewMockStore()
	tx, err := store.Begin()
	assert.NoError(t, err)

	assert.NoError(t, tx.Commit())
	assert.Error(t, tx.Commit(), "committing twice must fail")
	assert.Error(t, tx.Save(lineagestore.Snapshot{TaskID: "late"}))
}
