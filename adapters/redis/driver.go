// Package redis binds the router to Redis-protocol backends using go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/codewandler/kvrouter/core/cluster"
)

// Error reply prefixes that mean the instance cannot serve right now. They
// are treated like a broken connection so the router moves on.
var serverFaultPrefixes = []string{"LOADING", "BUSY", "MASTERDOWN", "CLUSTERDOWN", "TRYAGAIN"}

type Options struct {
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Log          *slog.Logger
}

type Driver struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Driver {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 1
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Driver{opts: opts, log: log.With(slog.String("driver", "redis"))}
}

// Dial opens a client for endpoint and checks it with PING. go-redis retries
// are disabled; failover is left to the router.
func (d *Driver) Dial(ctx context.Context, endpoint cluster.Endpoint) (cluster.Conn, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         endpoint.String(),
		Password:     d.opts.Password,
		DB:           d.opts.DB,
		PoolSize:     d.opts.PoolSize,
		DialTimeout:  d.opts.DialTimeout,
		ReadTimeout:  d.opts.ReadTimeout,
		WriteTimeout: d.opts.WriteTimeout,
		MaxRetries:   -1,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis dial %s: %w", endpoint, err)
	}
	d.log.Debug("connected", slog.String("endpoint", endpoint.String()))
	return &conn{client: client, endpoint: endpoint}, nil
}

type conn struct {
	client   *goredis.Client
	endpoint cluster.Endpoint
}

func (c *conn) Request(ctx context.Context, cmd cluster.Command) (cluster.Reply, error) {
	if len(cmd) == 0 {
		return cluster.Failed("client_error", "empty command"), nil
	}
	v, err := c.client.Do(ctx, toArgs(cmd)...).Result()
	if err != nil {
		return classify(err)
	}
	return cluster.OK(flatten(v)...), nil
}

// Pipeline fails the batch only on server faults. Per-command application
// errors, such as a GET on a missing key, do not fail the batch.
func (c *conn) Pipeline(ctx context.Context, cmds []cluster.Command) error {
	results, err := c.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, cmd := range cmds {
			if len(cmd) == 0 {
				continue
			}
			p.Do(ctx, toArgs(cmd)...)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if len(results) == 0 {
		return err
	}
	for _, res := range results {
		if _, ferr := classify(res.Err()); ferr != nil {
			return ferr
		}
	}
	return nil
}

func (c *conn) Close() error {
	return c.client.Close()
}

// classify maps a go-redis error to either a failed reply or a server fault.
func classify(err error) (cluster.Reply, error) {
	if err == nil {
		return cluster.OK(), nil
	}
	if errors.Is(err, goredis.Nil) {
		return cluster.Failed("not_found"), nil
	}
	var rerr goredis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		for _, p := range serverFaultPrefixes {
			if strings.HasPrefix(msg, p) {
				return cluster.Reply{}, err
			}
		}
		return cluster.Failed("error", msg), nil
	}
	return cluster.Reply{}, err
}

func toArgs(cmd cluster.Command) []any {
	args := make([]any, len(cmd))
	for i, a := range cmd {
		args[i] = a
	}
	return args
}

// flatten turns a RESP value into reply values. Nested arrays are flattened
// in order and nil elements become empty strings.
func flatten(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case int64:
		return []string{strconv.FormatInt(t, 10)}
	case bool:
		if t {
			return []string{"1"}
		}
		return []string{"0"}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if e == nil {
				out = append(out, "")
				continue
			}
			out = append(out, flatten(e)...)
		}
		return out
	case map[any]any:
		out := make([]string, 0, 2*len(t))
		for k, e := range t {
			out = append(out, flatten(k)...)
			out = append(out, flatten(e)...)
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

var (
	_ cluster.Driver = (*Driver)(nil)
	_ cluster.Conn   = (*conn)(nil)
)
