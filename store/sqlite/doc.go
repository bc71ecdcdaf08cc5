// Package sqlite provides SQLite-backed checkpoint storage.
//
// Checkpoints live in a single table keyed by (thread_id, step). Appends use a
// conditional insert so a checkpoint that does not advance its thread is
// rejected with store.ErrStaleCheckpoint, and the primary key catches the
// remaining races.
//
// # Basic Usage
//
//	cp, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//		Path:      "./checkpoints.db",
//		TableName: "checkpoints", // optional
//	})
//	if err != nil {
//		return err
//	}
//	defer cp.Close()
//
//	runnable, err := g.Compile(graph.WithCheckpointer(cp))
//
// The store holds a single open connection because SQLite allows only one
// writer at a time.
package sqlite
