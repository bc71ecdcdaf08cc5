// Package redis provides Redis-backed checkpoint and item storage.
//
// Each thread is one sorted set whose members are JSON checkpoints scored by
// step. Appends run inside a WATCH/MULTI transaction on the thread key: a
// concurrent writer makes the transaction fail, which is reported as
// store.ErrStaleCheckpoint.
//
// # Basic Usage
//
//	cp := redis.NewRedisCheckpointStore(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "stepgraph:", // optional
//		TTL:    24 * time.Hour,
//	})
//
//	runnable, err := g.Compile(graph.WithCheckpointer(cp))
//
// When TTL is set, every append refreshes the expiry of the whole thread.
//
// RedisStore keeps long-term items shared by all threads. Each namespace is a
// hash named "<prefix>items:<namespace>" whose fields are item keys, and the
// set "<prefix>namespaces" indexes the namespaces that hold items:
//
//	items := redis.NewRedisStore(redis.RedisOptions{Addr: "localhost:6379"})
//	runnable, err := g.Compile(graph.WithCheckpointer(cp), graph.WithStore(items))
package redis
