package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, batchID uuid.UUID, typ string) *BatchEvent {
	t.Helper()
	e, err := NewBatchEvent(batchID, typ, map[string]int{})
	require.NoError(t, err)
	return e
}

func TestBroker_DeliversPerBatch(t *testing.T) {
	t.Parallel()

	b := NewBroker(4)
	first, second := uuid.New(), uuid.New()

	ch1, stop1 := b.Subscribe(first)
	defer stop1()
	ch2, stop2 := b.Subscribe(second)
	defer stop2()

	require.NoError(t, b.HandleEvent(context.Background(), mustEvent(t, first, TypeProgress)))

	select {
	case e := <-ch1:
		assert.Equal(t, first, e.BatchID)
	default:
		t.Fatal("subscriber of the batch should have received the event")
	}
	assert.Empty(t, ch2)
}

func TestBroker_RunFinishedClosesSubscription(t *testing.T) {
	t.Parallel()

	b := NewBroker(4)
	id := uuid.New()
	ch, stop := b.Subscribe(id)

	require.NoError(t, b.HandleEvent(context.Background(), mustEvent(t, id, TypeProgress)))
	require.NoError(t, b.HandleEvent(context.Background(), mustEvent(t, id, TypeRunFinished)))

	var types []string
	for e := range ch {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{TypeProgress, TypeRunFinished}, types)
	assert.Zero(t, b.Subscribers(id))

	stop()
}

func TestBroker_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	b := NewBroker(1)
	id := uuid.New()
	ch, stop := b.Subscribe(id)
	defer stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.HandleEvent(context.Background(), mustEvent(t, id, TypeSnapshot)))
	}
	assert.Len(t, ch, 1)
}

func TestBroker_Close(t *testing.T) {
	t.Parallel()

	b := NewBroker(2)
	ch, stop := b.Subscribe(uuid.New())
	b.Close()

	_, open := <-ch
	assert.False(t, open)
	stop()

	late, _ := b.Subscribe(uuid.New())
	_, open = <-late
	assert.False(t, open)
}
