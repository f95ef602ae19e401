// Package cluster provides client-side sharding and failover routing over a
// static set of key-value backend regions.
//
// A cluster is a list of regions. Each region is one shard of the key space
// and is served by an ordered list of backend instances: the first reachable
// instance is authoritative, the others are standbys.
//
// # Architecture
//
//   - [Slot] / [CRC16]: maps a key to a region (CRC-16/XMODEM modulo the
//     region count)
//   - [Router]: resolves a region to a live instance, reconnecting with a
//     backoff window and failing over along the priority list
//   - [Router.Dispatch]: partitions a batch of commands by region and sends
//     one pipelined batch per region
//   - [Driver] / [Conn]: the backend binding. Wire framing lives in drivers;
//     see adapters/redis, adapters/nats and [MemoryDriver]
//
// # Usage
//
//	r, err := cluster.Connect(ctx, cluster.RouterOptions{
//	    Driver: redis.New(redis.Options{}),
//	    Topology: cluster.Topology{
//	        {{Host: "10.0.0.1", Port: 6379}, {Host: "10.0.0.2", Port: 6379}},
//	        {{Host: "10.0.1.1", Port: 6379}},
//	    },
//	})
//
//	reply, err := r.Request(ctx, cluster.Command{"set", "user:1", "alice"})
//	reply, err = r.RequestAt(ctx, 1, cluster.Command{"get", "user:1"})
//
//	results := r.Dispatch(ctx, []cluster.Command{
//	    {"set", "a", "1"}, {"set", "b", "2"}, {"set", "c", "3"},
//	})
//
// # Failover
//
// An instance is either connected or disconnected. A disconnected instance is
// dialled again only once [RouterOptions.Backoff] has passed since its last
// dial; instances never dialled are always eligible. When a higher-priority
// instance comes back, every connected instance ranked below it in the same
// region is disconnected.
//
// # Error Handling
//
//   - [ConnectionError]: no instance of the region could be used
//   - [ServerError]: a driver fault; the instance is dropped and the call
//     moves on to the next instance
//   - [ApplicationError]: a failed [Reply], returned as is and never retried
//
// # Concurrency
//
// [Router] is meant for a single goroutine and performs no locking.
// [SyncRouter] serializes access per region for shared use.
package cluster
