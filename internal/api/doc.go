// Package api exposes the enhancement pipeline over HTTP. Handlers decode
// and validate requests, call the task manager on behalf of the
// authenticated user, and translate domain errors into status codes in one
// place (MapErrorToStatusCode) so internal details never reach clients.
package api
