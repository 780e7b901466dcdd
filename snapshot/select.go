package snapshot

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedRecord is returned when an alive mirror carries a version or
// revision token that does not parse as a base-10 integer. Failing loudly
// here matters: comparing the raw tokens as strings would silently order
// "10" before "9".
var ErrMalformedRecord = errors.New("snapshot: malformed mirror record")

// SelectionResult is the ordered list of mirror URLs tied for "most
// current and alive" within one region. It may be empty; it never
// contains duplicates (mirror URLs are unique within their region).
type SelectionResult []string

// Select computes the best-available mirror set for one region.
//
// Dead and unknown mirrors are dropped first. Among the alive mirrors the
// numerically maximal release version wins, then the numerically maximal
// revision within that version. Every mirror tied on both counts is
// returned, in feed order, so downstream consumers get a redundancy set
// instead of an arbitrary tiebreak.
//
// An absent region or a region with no alive mirror yields an empty
// result and no error: "no known-good mirror" is a legitimate state, not
// a failure.
func Select(snap *Snapshot, region RegionPath) (SelectionResult, error) {
	var alive []MirrorRecord
	for _, rec := range snap.Records(region) {
		if rec.Status == StatusAlive {
			alive = append(alive, rec)
		}
	}
	if len(alive) == 0 {
		return nil, nil
	}

	versions := make([]int64, len(alive))
	maxVersion := int64(0)
	for i, rec := range alive {
		v, err := parseOrdinal(rec, "releaseVersion", rec.Version)
		if err != nil {
			return nil, err
		}
		versions[i] = v
		if i == 0 || v > maxVersion {
			maxVersion = v
		}
	}

	var current []MirrorRecord
	for i, rec := range alive {
		if versions[i] == maxVersion {
			current = append(current, rec)
		}
	}

	revisions := make([]int64, len(current))
	maxRevision := int64(0)
	for i, rec := range current {
		v, err := parseOrdinal(rec, "revision", rec.Revision)
		if err != nil {
			return nil, err
		}
		revisions[i] = v
		if i == 0 || v > maxRevision {
			maxRevision = v
		}
	}

	var result SelectionResult
	for i, rec := range current {
		if revisions[i] == maxRevision {
			result = append(result, rec.URL)
		}
	}
	return result, nil
}

func parseOrdinal(rec MirrorRecord, field, token string) (int64, error) {
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: mirror %q has non-numeric %s %q", ErrMalformedRecord, rec.URL, field, token)
	}
	return v, nil
}
