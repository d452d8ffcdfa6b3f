package kafka_infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsume_RetriesFailedMessageBeforeMovingOn(t *testing.T) {
	reader := &fakeReader{
		queue: []kafka.Message{
			{Offset: 1, Value: []byte("ok")},
			{Offset: 2, Value: []byte("flaky")},
			{Offset: 3, Value: []byte("ok")},
		},
		fetchErrs: []error{errors.New("transient")},
	}
	consumer := newConsumer(reader, "group", "topic", time.Millisecond, zap.NewNop())

	var mu sync.Mutex
	attempts := map[int64]int{}
	var handled []int64

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(ctx, func(_ context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			attempts[msg.Offset]++
			if string(msg.Value) == "flaky" && attempts[msg.Offset] < 3 {
				return errors.New("store unavailable")
			}
			handled = append(handled, msg.Offset)
			return nil
		})
	}()

	assert.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	mu.Lock()
	assert.Equal(t, 3, attempts[2])
	assert.Equal(t, 1, attempts[3])
	assert.Equal(t, []int64{1, 2, 3}, handled)
	mu.Unlock()

	require.NoError(t, consumer.Close())
	assert.True(t, reader.closed)
}

func TestConsume_StopsWithoutCommitWhenCancelledMidRetry(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Offset: 7, Value: []byte("broken")}}}
	consumer := newConsumer(reader, "group", "topic", time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 100)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(ctx, func(context.Context, kafka.Message) error {
			select {
			case calls <- struct{}{}:
			default:
			}
			return errors.New("still failing")
		})
	}()

	<-calls
	<-calls
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, reader.commits())
}
