// Package journal keeps a local SQLite record of wpan events.
//
// A Recorder is registered as a wpan.Observer. Every discovery, committed
// property change, 6LoWPAN link change and rejected command becomes a row
// in the wpan_events table, so the history of a radio survives restarts
// even when no time-series database is configured.
//
// Observe is called from the engine's dispatch loop and must not wait on
// disk, so changes go through a buffered channel to a single writer
// goroutine. When the buffer is full the change is dropped and counted.
//
// Usage:
//
//	rec, err := journal.NewRecorder(db.DB, logger)
//	if err != nil {
//	    return err
//	}
//	defer rec.Close()
//
//	events, err := rec.History(ctx, wpan.PhyRef(0), 50)
package journal
