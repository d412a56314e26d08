package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/slicecache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Connector dials one client per (connection, db) pair from the named base
// options. The returned providers own their clients.
func Connector(conns map[string]*goredis.Options) pr.Connector {
	return func(name string, db int) (pr.Provider, error) {
		base, ok := conns[name]
		if !ok || base == nil {
			return nil, fmt.Errorf("redis provider: unknown connection %q", name)
		}
		opts := *base
		opts.DB = db
		return New(Config{Client: goredis.NewClient(&opts), CloseClient: true})
	}
}

// Exec sends cmds in a single pipeline. Misses are Reply.Nil, not errors.
func (p *Redis) Exec(ctx context.Context, cmds []pr.Cmd) ([]pr.Reply, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	queued := make([]goredis.Cmder, len(cmds))
	var build error
	_, err := p.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, c := range cmds {
			switch c.Op {
			case pr.OpGet:
				queued[i] = pipe.Get(ctx, c.Key)
			case pr.OpSet:
				queued[i] = pipe.Set(ctx, c.Key, c.Value, ttlOrZero(c))
			case pr.OpSetNX:
				queued[i] = pipe.SetNX(ctx, c.Key, c.Value, ttlOrZero(c))
			case pr.OpExpire:
				queued[i] = pipe.Expire(ctx, c.Key, c.TTL)
			case pr.OpDel:
				queued[i] = pipe.Del(ctx, c.Key)
			case pr.OpIncr:
				queued[i] = pipe.Incr(ctx, c.Key)
			case pr.OpSAdd:
				members := make([]any, len(c.Members))
				for j, m := range c.Members {
					members[j] = m
				}
				queued[i] = pipe.SAdd(ctx, c.Key, members...)
			case pr.OpSMembers:
				queued[i] = pipe.SMembers(ctx, c.Key)
			default:
				build = fmt.Errorf("redis provider: unsupported op %s", c.Op)
				return build
			}
		}
		return nil
	})
	// Nothing was sent and some slots were never queued.
	if build != nil {
		return nil, build
	}
	if err != nil && !errors.Is(err, goredis.Nil) && !anyExecuted(queued) {
		return nil, err
	}

	replies := make([]pr.Reply, len(cmds))
	for i, q := range queued {
		replies[i] = reply(q)
	}
	return replies, nil
}

func ttlOrZero(c pr.Cmd) time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return 0
}

// anyExecuted reports whether the server answered at least one command.
// A dial or write failure leaves every command with the same transport error.
func anyExecuted(cmds []goredis.Cmder) bool {
	for _, c := range cmds {
		if c == nil {
			return false
		}
		if err := c.Err(); err == nil || errors.Is(err, goredis.Nil) || isServerErr(err) {
			return true
		}
	}
	return false
}

func isServerErr(err error) bool {
	var re goredis.Error
	return errors.As(err, &re)
}

func reply(c goredis.Cmder) pr.Reply {
	if err := c.Err(); err != nil {
		if errors.Is(err, goredis.Nil) {
			return pr.Reply{Nil: true}
		}
		return pr.Reply{Err: err}
	}
	switch v := c.(type) {
	case *goredis.StringCmd:
		b, _ := v.Bytes()
		return pr.Reply{Value: b}
	case *goredis.StatusCmd:
		return pr.Reply{OK: v.Val() == "OK"}
	case *goredis.BoolCmd:
		return pr.Reply{OK: v.Val()}
	case *goredis.IntCmd:
		return pr.Reply{Int: v.Val(), OK: true}
	case *goredis.StringSliceCmd:
		return pr.Reply{Members: v.Val()}
	}
	return pr.Reply{Err: fmt.Errorf("redis provider: unexpected reply %T", c)}
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
