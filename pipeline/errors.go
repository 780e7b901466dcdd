package pipeline

import (
	"errors"

	"github.com/hazyhaar/mirlist/snapshot"
)

// ErrOracleUnavailable is returned when the status feed could not be
// fetched or timed out. No partial snapshot is ever used.
var ErrOracleUnavailable = errors.New("pipeline: status oracle unavailable")

// ErrMalformedRecord is the selection-time schema violation: an alive
// mirror carried a non-numeric version or revision token. The run fails
// and no artifact is written.
var ErrMalformedRecord = snapshot.ErrMalformedRecord

// ErrUploadFailed is returned when the hosting target rejected the
// artifact or timed out. The previously published artifact remains
// untouched, since the new one never became visible.
var ErrUploadFailed = errors.New("pipeline: artifact upload failed")
