// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins the calling goroutine's OS thread to a logical CPU on
// supported platforms. The goroutine stays locked to its thread afterwards.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	runtime.LockOSThread()
	return setAffinityPlatform(cpuID % runtime.NumCPU())
}
