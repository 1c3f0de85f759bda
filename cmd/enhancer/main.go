// Command enhancer runs the AI image-enhancement service: the HTTP API and
// its worker pool, plus one-shot maintenance commands for the pending-task
// sweep, retention cleanup and schema migrations.
package main

func main() {
	Execute()
}
