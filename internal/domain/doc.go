// Package domain contains the core business entities of the enhancement
// pipeline: enhancement tasks, their lifecycle states, and the credit
// transactions recorded against them. It has no knowledge of storage or
// transport.
package domain
