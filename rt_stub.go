//go:build !linux

package rtlink

// Real-time scheduling is only wired up for Linux. The engine treats this as
// best effort and logs a warning.
func setRealtimePriority() error {
	return ErrUnsupportedPlatform
}
