// Package events carries enhancement task lifecycle events from the task
// manager to whoever wants them.
//
// The task manager emits a TaskEvent through an EventEmitter when a task
// reaches a terminal state. InMemoryEventEmitter fans each event out to its
// registered EventHandlers, such as the Kafka publisher. Emission is best
// effort: a failing handler never changes the outcome of the task.
package events
