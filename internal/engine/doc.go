// Package engine implements the submission lifecycle: admission of new
// submissions with the one-pending-per-task rule, asynchronous reconciliation
// of backend results, crash recovery of orphaned submissions, retention
// pruning of historical submissions, and replay of stored inputs.
package engine
