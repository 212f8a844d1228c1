package inmemdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/classledger/core/class"
	inmemdb "github.com/trezcool/classledger/storage/database/inmem"
)

func TestDB_RunInTx_rollback(t *testing.T) {
	db := inmemdb.Open()
	repo := inmemdb.NewClassRepository(db)
	ctx := context.Background()

	rec, err := repo.CreateClass(ctx, class.ClassRecord{Name: "kept", StatusFlag: "draft"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.RunInTx(ctx, func(ctx context.Context) error {
		if err := repo.UpdateStatus(ctx, class.StatusUpdate{ClassID: rec.ID, Status: class.StatusActive}); err != nil {
			return err
		}
		if _, err := repo.CreateClass(ctx, class.ClassRecord{Name: "dropped"}); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, err)

	got, err := repo.GetClass(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", got.StatusFlag)
	_, err = repo.GetClass(ctx, rec.ID+1)
	assert.Equal(t, class.ErrNotFound, err)
}

func TestDB_RunInTx_keepsWritesMadeOutside(t *testing.T) {
	db := inmemdb.Open()
	repo := inmemdb.NewClassRepository(db)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	txErr := make(chan error)
	go func() {
		txErr <- db.RunInTx(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return errors.New("boom")
		})
	}()
	<-started

	created := make(chan class.ClassRecord)
	go func() {
		rec, err := repo.CreateClass(ctx, class.ClassRecord{Name: "fixture"})
		assert.NoError(t, err)
		created <- rec
	}()
	time.Sleep(20 * time.Millisecond) // the fixture write is issued while the unit of work runs
	close(release)

	require.Error(t, <-txErr)
	rec := <-created
	got, err := repo.GetClass(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "fixture", got.Name)
}
