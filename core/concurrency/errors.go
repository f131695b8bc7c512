// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrQueueClosed indicates the command queue no longer accepts items
	ErrQueueClosed = errors.New("command queue is closed")
)
