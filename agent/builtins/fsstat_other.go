//go:build !linux

package builtins

import "errors"

func statvfsFree(path string) (uint64, error) {
	return 0, errors.New("disk-fill: free-space lookup is only implemented for linux")
}
