package db

import (
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
)

// sliceIterator hands out snapshots in order, then iterator.Done or err.
type sliceIterator struct {
	docs []*firestore.DocumentSnapshot
	err  error
}

func (it *sliceIterator) Next() (*firestore.DocumentSnapshot, error) {
	if len(it.docs) == 0 {
		if it.err != nil {
			return nil, it.err
		}
		return nil, iterator.Done
	}
	doc := it.docs[0]
	it.docs = it.docs[1:]
	return doc, nil
}

func TestCollectUsers(t *testing.T) {
	t.Run("undecodable document is logged", func(t *testing.T) {
		l, hook := test.NewNullLogger()
		// a snapshot without data fails DataTo
		bad := &firestore.DocumentSnapshot{Ref: &firestore.DocumentRef{ID: "bad"}}

		users, err := collectUsers(&sliceIterator{docs: []*firestore.DocumentSnapshot{bad}}, logrus.NewEntry(l))
		require.NoError(t, err)
		assert.Empty(t, users)

		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Equal(t, "bad", entry.Data["userId"])
	})

	t.Run("iteration error", func(t *testing.T) {
		l := logrus.New()
		l.SetOutput(io.Discard)
		_, err := collectUsers(&sliceIterator{err: errors.New("unavailable")}, logrus.NewEntry(l))
		assert.ErrorContains(t, err, "unavailable")
	})
}
