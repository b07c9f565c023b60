// Package dblock serializes Postgres integration tests across packages. go test runs
// package binaries in parallel and they all truncate the same tables, so each test holds
// a loopback TCP listener as a cross-process mutex.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:45433"

// Acquire blocks until the lock is free and returns its release func. LEDGER_TEST_LOCK_ADDR
// overrides the listener address when the default port is taken.
func Acquire() func() {
	addr := os.Getenv("LEDGER_TEST_LOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(25 * time.Millisecond)
	}
}
