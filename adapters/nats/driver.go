package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/kvrouter/core/cluster"
)

const DefaultBucket = "kvrouter"

type DriverConfig struct {
	Bucket   string        // Bucket is the JetStream key-value bucket on every instance. Defaults to DefaultBucket.
	Timeout  time.Duration // Timeout bounds connecting to an instance.
	MaxBytes int64         // MaxBytes caps the bucket size; 0 means unlimited.
	Log      *slog.Logger
}

// Driver serves router commands from a JetStream key-value bucket. Every
// instance is a separate NATS server holding its own bucket.
type Driver struct {
	cfg DriverConfig
	log *slog.Logger
}

func NewDriver(cfg DriverConfig) *Driver {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = -1
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Driver{cfg: cfg, log: log.With(slog.String("driver", "nats"))}
}

func (d *Driver) Dial(ctx context.Context, endpoint cluster.Endpoint) (cluster.Conn, error) {
	nc, closeNc, err := ConnectEndpoint(endpoint, d.cfg.Timeout)()
	if err != nil {
		return nil, fmt.Errorf("nats dial %s: %w", endpoint, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   d.cfg.Bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: d.cfg.MaxBytes,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("nats bucket %s on %s: %w", d.cfg.Bucket, endpoint, err)
	}

	d.log.Debug("connected", slog.String("endpoint", endpoint.String()), slog.String("bucket", d.cfg.Bucket))
	return &conn{kv: kv, close: closeNc}, nil
}

// arity is the argument count of each supported command, verb included.
var arity = map[string]int{"get": 2, "set": 3, "del": 2, "exists": 2, "keys": 1}

type conn struct {
	kv    jetstream.KeyValue
	close closeFunc
}

func (c *conn) Request(ctx context.Context, cmd cluster.Command) (cluster.Reply, error) {
	return c.exec(ctx, cmd)
}

// Pipeline runs the batch in order. JetStream has no batch write, so the
// first server fault aborts the rest and the batch counts as not delivered.
func (c *conn) Pipeline(ctx context.Context, cmds []cluster.Command) error {
	for _, cmd := range cmds {
		if _, err := c.exec(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) Close() error {
	c.close()
	return nil
}

func (c *conn) exec(ctx context.Context, cmd cluster.Command) (cluster.Reply, error) {
	want, known := arity[cmd.Name()]
	if !known {
		return cluster.Failed("client_error", "unknown command: "+cmd.Name()), nil
	}
	if len(cmd) != want {
		return cluster.Failed("client_error", "wrong number of arguments"), nil
	}

	var (
		reply cluster.Reply
		err   error
	)
	switch cmd.Name() {
	case "get":
		var e jetstream.KeyValueEntry
		if e, err = c.kv.Get(ctx, cmd[1]); err == nil {
			reply = cluster.OK(string(e.Value()))
		}
	case "set":
		if _, err = c.kv.Put(ctx, cmd[1], []byte(cmd[2])); err == nil {
			reply = cluster.OK("ok")
		}
	case "del":
		if err = c.kv.Delete(ctx, cmd[1]); err == nil {
			reply = cluster.OK("ok")
		}
	case "exists":
		if _, err = c.kv.Get(ctx, cmd[1]); err == nil {
			reply = cluster.OK("1")
		} else if errors.Is(err, jetstream.ErrKeyNotFound) {
			return cluster.OK("0"), nil
		}
	case "keys":
		var keys []string
		keys, err = c.kv.Keys(ctx)
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return cluster.OK(), nil
		}
		if err == nil {
			sort.Strings(keys)
			reply = cluster.OK(keys...)
		}
	}

	switch {
	case err == nil:
		return reply, nil
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return cluster.Failed("not_found"), nil
	case errors.Is(err, jetstream.ErrInvalidKey):
		return cluster.Failed("client_error", "invalid key"), nil
	default:
		return cluster.Reply{}, err
	}
}

var (
	_ cluster.Driver = (*Driver)(nil)
	_ cluster.Conn   = (*conn)(nil)
)
