package blockstore

import "fmt"

// Volume describes the filesystem that holds a store.
type Volume struct {
	Total     int64
	Used      int64
	Available int64
}

// CheckFree returns an error when the volume holding path has fewer than
// minFree bytes available to unprivileged users. A minFree of 0 disables
// the check.
func CheckFree(path string, minFree int64) (Volume, error) {
	vol, err := VolumeStats(path)
	if err != nil {
		return Volume{}, err
	}
	if minFree > 0 && vol.Available < minFree {
		return vol, fmt.Errorf("%w: %d bytes available on %s, need %d",
			ErrInsufficientSpace, vol.Available, path, minFree)
	}
	return vol, nil
}
