package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
)

func TestPublisherRecordsInOrder(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "corpus-ready", forum.CorpusReady{RunID: "r1"})
	require.NoError(t, err)
	id2, err := pub.Publish(ctx, "audit", forum.CorpusReady{RunID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, forum.CorpusReady{RunID: "r2"}, msgs[1].Payload)

	ready := pub.OnTopic("corpus-ready")
	require.Len(t, ready, 1)
	assert.Equal(t, "memory-1", ready[0].ID)

	msgs[0].Topic = "mutated"
	assert.Equal(t, "corpus-ready", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	boom := errors.New("unavailable")
	pub := New()
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "corpus-ready", "x")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "corpus-ready")
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "corpus-ready", "x")
	require.NoError(t, err)
	assert.Len(t, pub.Messages(), 1)
}
