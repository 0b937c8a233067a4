package storage

import (
	"context"
	"testing"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	src  = smpp.Address{TON: 1, NPI: 1, Addr: "100"}
	dst  = smpp.Address{TON: 1, NPI: 1, Addr: "200"}
	ctx  = context.Background()
	text = []byte("hello")
)

func seed(t *testing.T, s *MessageStore, ids ...string) {
	t.Helper()
	for i, id := range ids {
		require.NoError(t, s.Store(ctx, &Message{
			ID:           id,
			SystemID:     "esme",
			ServiceType:  "CMT",
			SourceAddr:   src,
			DestAddr:     dst,
			ShortMessage: text,
			SubmitTime:   time.Unix(int64(1000+i), 0),
		}))
	}
}

func TestStoreAndGet(t *testing.T) {
	s := NewMessageStore(nil)
	seed(t, s, "m1")

	m, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, uint8(smpp.MessageStateEnroute), m.State)
	assert.False(t, m.IsFinal())
	assert.Empty(t, m.FinalDate())

	m.ShortMessage[0] = 'j'
	again, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, text, again.ShortMessage)

	assert.Error(t, s.Store(ctx, &Message{ID: "m1"}))
	assert.Error(t, s.Store(ctx, &Message{}))
	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateState(t *testing.T) {
	s := NewMessageStore(nil)
	seed(t, s, "m1")

	m, err := s.UpdateState(ctx, "m1", smpp.MessageStateDelivered, 0)
	require.NoError(t, err)
	assert.True(t, m.IsFinal())
	require.NotNil(t, m.DoneTime)
	assert.Len(t, m.FinalDate(), 16)

	_, err = s.UpdateState(ctx, "m1", smpp.MessageStateExpired, 0)
	assert.ErrorIs(t, err, ErrFinalState)
}

func TestReplace(t *testing.T) {
	s := NewMessageStore(nil)
	seed(t, s, "m1")

	require.NoError(t, s.Replace(ctx, "m1", src, []byte("bye"), 1))
	m, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("bye"), m.ShortMessage)
	assert.Equal(t, uint8(1), m.RegisteredDelivery)

	assert.ErrorIs(t, s.Replace(ctx, "m1", dst, nil, 0), ErrNotFound)
}

func TestCancel(t *testing.T) {
	s := NewMessageStore(nil)
	seed(t, s, "m1", "m2", "m3")

	n, err := s.Cancel(ctx, "m1", "", src, smpp.Address{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Cancel(ctx, "m1", "", src, smpp.Address{})
	assert.ErrorIs(t, err, ErrFinalState)

	n, err = s.Cancel(ctx, "", "CMT", src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Cancel(ctx, "", "", src, dst)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted := uint8(smpp.MessageStateDeleted)
	assert.Len(t, s.Search(ctx, SearchCriteria{State: &deleted}), 3)
}

func TestSearch(t *testing.T) {
	s := NewMessageStore(nil)
	seed(t, s, "m1", "m2", "m3")

	all := s.Search(ctx, SearchCriteria{SystemID: "esme"})
	require.Len(t, all, 3)
	assert.Equal(t, "m3", all[0].ID)

	page := s.Search(ctx, SearchCriteria{Limit: 1, Offset: 1})
	require.Len(t, page, 1)
	assert.Equal(t, "m2", page[0].ID)

	assert.Empty(t, s.Search(ctx, SearchCriteria{Offset: 5}))
	assert.Empty(t, s.Search(ctx, SearchCriteria{DestAddr: "999"}))

	require.NoError(t, s.Delete(ctx, "m2"))
	assert.Equal(t, 2, s.Count())
	assert.ErrorIs(t, s.Delete(ctx, "m2"), ErrNotFound)
}
