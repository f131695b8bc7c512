//go:build linux

package affinity

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSetAffinityPinsCallingThread(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		defer runtime.UnlockOSThread()
		if err := SetAffinity(0); err != nil {
			done <- err
			return
		}
		var set unix.CPUSet
		if err := unix.SchedGetaffinity(0, &set); err != nil {
			done <- err
			return
		}
		if !set.IsSet(0) || set.Count() != 1 {
			done <- unix.EINVAL
			return
		}
		done <- nil
	}()
	err := <-done
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EINVAL) {
		t.Skipf("affinity restricted in this environment: %v", err)
	}
	require.NoError(t, err)
}
