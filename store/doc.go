// Package store defines the checkpoint model and the persistence contract used
// by the graph engine, plus several backends.
//
// A thread is an independent run identified by a string. Its history is an
// append-only chain of checkpoints ordered by step. The engine needs only three
// operations from a backend: read the latest checkpoint, append the next one and
// delete a thread. List is used for history browsing.
//
// # Available Implementations
//
//   - store/memory: process-local maps, the default checkpointer
//   - store/file: one JSON-lines file per thread
//   - store/sqlite: SQLite through mattn/go-sqlite3
//   - store/postgres: PostgreSQL through jackc/pgx
//   - store/redis: Redis sorted sets through redis/go-redis
//
// Every backend rejects an append whose step does not advance the thread with
// ErrStaleCheckpoint. This keeps one writer per thread even when several
// processes share a database.
//
// # Serialization
//
// Durable backends store state as JSON. Values read back from them carry JSON
// types: numbers become float64, lists become []any and structs become
// map[string]any. The reducers in the graph package accept both forms.
//
// # Example
//
//	cp, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//	    Path: "./checkpoints.db",
//	})
//	if err != nil {
//	    return err
//	}
//	defer cp.Close()
//
//	runnable, err := g.Compile(graph.WithCheckpointer(cp))
//
// # Long-term items
//
// Store is a second contract, independent of threads: namespaced key-value
// items that every thread of a graph can read and write, such as a user
// profile shared by all conversations of that user. store/memory and
// store/redis implement it.
//
// The contracts every backend must satisfy are exercised by package storetest.
package store
