//go:build linux || darwin || freebsd

package state

import "golang.org/x/sys/unix"

// DiskUsage reports the filesystem holding path.
func DiskUsage(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, err
	}
	bsize := uint64(st.Bsize)
	return Usage{Total: st.Blocks * bsize, Available: st.Bavail * bsize}, nil
}
