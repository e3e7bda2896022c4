package storage

import "errors"

// Sentinel errors for the storage package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrRootRequired is returned when a layout is built without a storage root.
	ErrRootRequired = errors.New("storage root is required")

	// ErrNotRegularFile is returned when a copy source is a directory or device.
	ErrNotRegularFile = errors.New("not a regular file")
)
