//go:build windows

package blockstore

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// VolumeStats returns size information for the filesystem holding path.
func VolumeStats(path string) (Volume, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Volume{}, fmt.Errorf("utf16 path: %w", err)
	}

	var freeAvailable, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeAvailable, &totalBytes, &totalFree); err != nil {
		return Volume{}, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}

	return Volume{
		Total:     int64(totalBytes),
		Used:      int64(totalBytes) - int64(totalFree),
		Available: int64(freeAvailable),
	}, nil
}
