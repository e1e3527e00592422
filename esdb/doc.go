// Package esdb ties the queue, reducer composition, and model stores into a
// single event-sourced database: appended events are reduced against every
// registered model inside a transaction, acked onto the queue, applied to
// each model's table, and derivers run afterward against durable state.
//
// A caller interacts with an *ESDB through Dispatch (append and wait for the
// result) and HandledVersion/WaitForQueue (wait for a version already
// appended by someone else, including another process sharing the same
// database file).
package esdb
