package kv

import (
	"context"
	"fmt"

	"github.com/codewandler/kvrouter/core/cluster"
)

// Requester routes a command by key. Both cluster.Router and
// cluster.SyncRouter implement it.
type Requester interface {
	RequestKey(ctx context.Context, key string, cmd cluster.Command) (cluster.Reply, error)
}

type RouterStoreOptions struct {
	SetVerb string // defaults to "set"
	GetVerb string // defaults to "get"
	DelVerb string // defaults to "del"
}

// RouterStore stores values on the region owning each key.
type RouterStore struct {
	r    Requester
	opts RouterStoreOptions
}

func NewRouterStore(r Requester, opts RouterStoreOptions) *RouterStore {
	if opts.SetVerb == "" {
		opts.SetVerb = "set"
	}
	if opts.GetVerb == "" {
		opts.GetVerb = "get"
	}
	if opts.DelVerb == "" {
		opts.DelVerb = "del"
	}
	return &RouterStore{r: r, opts: opts}
}

func (s *RouterStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.do(ctx, cluster.Command{s.opts.SetVerb, key, string(data)})
	return err
}

func (s *RouterStore) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := s.do(ctx, cluster.Command{s.opts.GetVerb, key})
	if err != nil {
		return nil, err
	}
	if len(reply.Values) == 0 {
		return nil, fmt.Errorf("kv: get %q: empty reply", key)
	}
	return []byte(reply.Values[0]), nil
}

func (s *RouterStore) Delete(ctx context.Context, key string) error {
	_, err := s.do(ctx, cluster.Command{s.opts.DelVerb, key})
	return err
}

func (s *RouterStore) do(ctx context.Context, cmd cluster.Command) (cluster.Reply, error) {
	reply, err := s.r.RequestKey(ctx, cmd[1], cmd)
	if err != nil {
		return reply, err
	}
	if err := reply.Err(); err != nil {
		if cluster.IsNotFound(err) {
			return reply, ErrNotFound
		}
		return reply, fmt.Errorf("kv: %s %q: %w", cmd.Name(), cmd[1], err)
	}
	return reply, nil
}

var _ Store = (*RouterStore)(nil)
