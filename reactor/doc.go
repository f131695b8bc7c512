// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness-multiplexing primitive the reactor
// threads block in: epoll on Linux, poll(2) on other unix systems.
//
// Pollers are level-triggered. Interest is recomputed by the owning thread on
// every loop iteration and pushed down with Modify only when it changes.
// Every poller carries a wakeup descriptor so other goroutines can cut a
// Wait short after posting work.
package reactor
