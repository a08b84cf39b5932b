//go:build !(linux || darwin || freebsd)

package state

import "errors"

func DiskUsage(string) (Usage, error) {
	return Usage{}, errors.New("disk usage not supported on this platform")
}
