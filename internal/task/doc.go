// Package task runs the enhancement task lifecycle. Submissions reserve
// credits and persist a pending task, which a worker pool then claims and
// sends to a provider. Failures are compensated with a credit refund. A
// periodic sweep recovers tasks that were stored but never dispatched, and a
// retention job removes old completed tasks.
package task
