package coordinator

import "golang.org/x/sys/unix"

// totalSystemMemory returns total physical RAM in bytes, used as the base
// for Config.MemoryFraction. Uses the same x/sys/unix dependency the
// fanout package relies on for the ring ABI, rather than adding a
// dedicated system-info library for one field.
func totalSystemMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
