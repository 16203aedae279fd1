//go:build linux

package rtlink

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setRealtimePriority moves the calling thread to SCHED_FIFO at the highest
// priority the policy allows. The caller must be locked to its OS thread.
// Requires CAP_SYS_NICE or an appropriate rtprio rlimit.
func setRealtimePriority() error {
	max, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, uintptr(unix.SCHED_FIFO), 0, 0)
	if errno != 0 {
		return fmt.Errorf("sched_get_priority_max: %w", errno)
	}

	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(max),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("sched_setattr(SCHED_FIFO, %d): %w", max, err)
	}
	return nil
}
