// Package integration provides end-to-end tests for job synchronization.
// A real relay server is started in-process and watch sessions follow jobs
// over HTTP, both over the event stream and after falling back to polling.
package integration
