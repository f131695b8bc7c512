// Package buffer
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contiguous, auto-resizing byte storage used as the single backing store of
// every duplex stream. Append at the tail, consume from the head.
//
// A Growable is not safe for concurrent use; the enclosing stream serializes
// access to it.
package buffer
