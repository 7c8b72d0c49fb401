package dedup

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	known map[string]bool
	err   error
	calls int
}

func (f *fakeChecker) Exists(_ context.Context, identityKey string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.known[identityKey], nil
}

func TestDeduplicator_InRunSet(t *testing.T) {
	t.Parallel()

	d := New(nil)

	isNew, err := d.IsNew(context.Background(), "10.1000/a")
	require.NoError(t, err)
	assert.True(t, isNew)

	d.MarkSeen("10.1000/a")

	isNew, err = d.IsNew(context.Background(), "10.1000/a")
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestDeduplicator_StoreBacked(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{known: map[string]bool{"10.1000/old": true}}
	d := New(checker)

	isNew, err := d.IsNew(context.Background(), "10.1000/old")
	require.NoError(t, err)
	assert.False(t, isNew)

	isNew, err = d.IsNew(context.Background(), "10.1000/new")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestDeduplicator_InRunSetShortCircuitsStore(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	d := New(checker)
	d.MarkSeen("10.1000/a")

	isNew, err := d.IsNew(context.Background(), "10.1000/a")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Zero(t, checker.calls)
}

func TestDeduplicator_EmptyKeyNeverNew(t *testing.T) {
	t.Parallel()

	d := New(nil)
	isNew, err := d.IsNew(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestDeduplicator_StoreErrorSurfaced(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{err: fmt.Errorf("connection lost")}
	d := New(checker)

	_, err := d.IsNew(context.Background(), "10.1000/a")
	require.Error(t, err)
}
