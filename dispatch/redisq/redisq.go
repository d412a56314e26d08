// Package redisq is a Dispatcher on Redis sorted sets. Each channel is a
// ZSET of task ids scored by due time (unix ms); payloads live in one hash.
//
//	<prefix>:<channel>   ZSET  id -> due
//	<prefix>:payloads    HASH  id -> payload
//
// Any number of workers may Run against the same keys. A task runs on the
// worker whose ZREM removes it, so each task runs at most once.
package redisq

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/slicecache/dispatch"
)

type Options struct {
	Prefix   string        // "" => "slicecache:queue"
	Channels []string      // polled in this order; "" => {"high", "default", "low"}
	Poll     time.Duration // 0 => 1s
	Batch    int64         // due tasks claimed per channel per poll; 0 => 64
	OnError  func(channel string, err error)
}

type Queue struct {
	rdb     goredis.UniversalClient
	opts    Options
	handler dispatch.Handler
	now     func() time.Time
}

var _ dispatch.Dispatcher = (*Queue)(nil)

func New(rdb goredis.UniversalClient, h dispatch.Handler, opts Options) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = "slicecache:queue"
	}
	if len(opts.Channels) == 0 {
		opts.Channels = []string{"high", "default", "low"}
	}
	if opts.Poll <= 0 {
		opts.Poll = time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 64
	}
	return &Queue{rdb: rdb, opts: opts, handler: h, now: time.Now}
}

// Bind sets the handler used by Run and Poll. Not safe to call while running.
func (q *Queue) Bind(h dispatch.Handler) { q.handler = h }

func (q *Queue) zkey(channel string) string { return q.opts.Prefix + ":" + channel }
func (q *Queue) hkey() string               { return q.opts.Prefix + ":payloads" }

// Enqueue stores the payload and schedules it in one transaction.
func (q *Queue) Enqueue(ctx context.Context, payload []byte, delay time.Duration, channel string) error {
	if channel == "" {
		channel = q.opts.Channels[0]
	}
	id := uuid.NewString()
	due := q.now().Add(max(delay, 0)).UnixMilli()
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, q.hkey(), id, payload)
		p.ZAdd(ctx, q.zkey(channel), goredis.Z{Score: float64(due), Member: id})
		return nil
	})
	return err
}

// Poll runs every due task once, channels in priority order, and returns how
// many ran.
func (q *Queue) Poll(ctx context.Context) (int, error) {
	if q.handler == nil {
		return 0, errors.New("redisq: no handler bound")
	}
	ran := 0
	upTo := strconv.FormatInt(q.now().UnixMilli(), 10)
	for _, ch := range q.opts.Channels {
		ids, err := q.rdb.ZRangeByScore(ctx, q.zkey(ch), &goredis.ZRangeBy{Min: "-inf", Max: upTo, Count: q.opts.Batch}).Result()
		if err != nil {
			return ran, err
		}
		for _, id := range ids {
			payload, ok, err := q.claim(ctx, ch, id)
			if err != nil {
				return ran, err
			}
			if !ok {
				continue // another worker has it
			}
			ran++
			if err := q.handler(ctx, payload); err != nil {
				q.report(ch, err)
			}
		}
	}
	return ran, nil
}

func (q *Queue) claim(ctx context.Context, channel, id string) ([]byte, bool, error) {
	n, err := q.rdb.ZRem(ctx, q.zkey(channel), id).Result()
	if err != nil || n == 0 {
		return nil, false, err
	}
	var get *goredis.StringCmd
	_, err = q.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		get = p.HGet(ctx, q.hkey(), id)
		p.HDel(ctx, q.hkey(), id)
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, false, err
	}
	b, err := get.Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil // payload already gone
	}
	return b, err == nil, err
}

// Run polls until ctx is done. Poll errors are reported and retried on the
// next tick.
func (q *Queue) Run(ctx context.Context) error {
	t := time.NewTicker(q.opts.Poll)
	defer t.Stop()
	for {
		if _, err := q.Poll(ctx); err != nil && ctx.Err() == nil {
			q.report("", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Len is the number of scheduled tasks in channel, due or not.
func (q *Queue) Len(ctx context.Context, channel string) (int64, error) {
	return q.rdb.ZCard(ctx, q.zkey(channel)).Result()
}

func (q *Queue) report(channel string, err error) {
	if q.opts.OnError != nil {
		q.opts.OnError(channel, err)
	}
}
