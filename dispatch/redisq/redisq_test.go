package redisq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, h func(context.Context, []byte) error) (*Queue, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Unix(1_700_000_000, 0)
	q := New(rdb, h, Options{Prefix: "test:q"})
	q.now = func() time.Time { return now }
	return q, mr, &now
}

func TestPollRunsOnlyDueTasks(t *testing.T) {
	var got []string
	q, mr, now := newQueue(t, func(_ context.Context, p []byte) error {
		got = append(got, string(p))
		return nil
	})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, []byte("soon"), time.Second, "high"))
	require.NoError(t, q.Enqueue(ctx, []byte("later"), time.Hour, "high"))
	assert.True(t, mr.Exists("test:q:payloads"))

	n, err := q.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	*now = now.Add(2 * time.Second)
	n, err = q.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"soon"}, got)

	left, err := q.Len(ctx, "high")
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)

	n, err = q.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a claimed task must not run twice")
}

func TestPollHonorsChannelOrder(t *testing.T) {
	var got []string
	q, _, now := newQueue(t, func(_ context.Context, p []byte) error {
		got = append(got, string(p))
		return nil
	})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, []byte("low"), 0, "low"))
	require.NoError(t, q.Enqueue(ctx, []byte("high"), 0, "high"))
	require.NoError(t, q.Enqueue(ctx, []byte("default"), 0, "default"))

	*now = now.Add(time.Millisecond)
	n, err := q.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"high", "default", "low"}, got)
}

func TestEmptyChannelUsesFirst(t *testing.T) {
	q, _, _ := newQueue(t, func(context.Context, []byte) error { return nil })
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, []byte("x"), 0, ""))
	n, err := q.Len(ctx, "high")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHandlerErrorIsReportedNotRetried(t *testing.T) {
	boom := errors.New("boom")
	var reported []error
	q, _, _ := newQueue(t, func(context.Context, []byte) error { return boom })
	q.opts.OnError = func(_ string, err error) { reported = append(reported, err) }
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, []byte("x"), 0, "high"))
	n, err := q.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], boom)

	n, _ = q.Poll(ctx)
	assert.Equal(t, 0, n)
}

func TestRunStopsWithContext(t *testing.T) {
	done := make(chan struct{})
	q, _, _ := newQueue(t, func(context.Context, []byte) error {
		close(done)
		return nil
	})
	q.opts.Poll = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, []byte("x"), 0, "high"))
	errc := make(chan error, 1)
	go func() { errc <- q.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task not run")
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
