//go:build !windows

package blockstore

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// VolumeStats returns size information for the filesystem holding path.
// Available counts the space open to non-root users.
func VolumeStats(path string) (Volume, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Volume{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := int64(stat.Bsize) //nolint:unconvert
	vol := Volume{
		Total:     int64(stat.Blocks) * bsize,
		Available: int64(stat.Bavail) * bsize,
	}
	vol.Used = vol.Total - int64(stat.Bfree)*bsize
	return vol, nil
}
