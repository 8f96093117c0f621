// Package integration verifies what the tracking proxy persists in real
// PostgreSQL, MongoDB and Redis instances started with testcontainers.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration
