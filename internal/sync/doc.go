// Package sync keeps a client-side view of a job in step with the server.
//
// A Watcher opens a Session per job id. The session combines two sources of
// updates into one job.View:
//
//   - the push channel (GET /stream/{id}), whose frames are parsed by the
//     events package and merged by the reducer package
//   - full snapshots (GET /jobs/{id}), fetched once when the session starts and
//     then on a fixed interval after the push channel has failed
//
// # Concurrency
//
// Every source is a producer goroutine that posts messages to a single queue.
// One consumer goroutine drains the queue and is the only code that touches the
// view and the connection supervisor, so messages are applied strictly in
// arrival order and the reducer needs no locking. Readers get copies through
// Session.Current, Session.Subscribe and Session.Wait.
//
// # Fallback
//
// The first transport error moves the supervisor to FAILED. The consumer then
// closes the stream, clears the displayed error and starts the poller. FAILED
// is never left: the push channel is not retried for the lifetime of the
// session, and polling stops once a snapshot with a terminal status arrives.
//
// Session.Close cancels every producer, stops the poll ticker, closes the
// stream and waits for all goroutines to exit.
package sync
