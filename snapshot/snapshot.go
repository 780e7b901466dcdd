// Package snapshot models one fetch of the mirror network status feed.
//
// The feed is a nested JSON object: region levels (e.g. continent, then
// country) down to mirror entries. The nesting depth and the region names
// are data, not schema: the tree is decoded generically and narrowed to
// the fixed MirrorRecord shape only at the leaves. Decoding preserves the
// feed's document order so that selection output is stable across runs.
//
// A Snapshot has no identity beyond the run that fetched it; it is built
// fresh on every deployment run and discarded afterwards.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Status is a mirror's reported reachability state.
type Status int

const (
	// StatusUnknown covers every feed token that is neither "Alive" nor
	// "Dead" (e.g. "Timeout"). Unknown mirrors are never selected.
	StatusUnknown Status = iota
	StatusAlive
	StatusDead
)

// ParseStatus maps a feed status token to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "Alive":
		return StatusAlive
	case "Dead":
		return StatusDead
	default:
		return StatusUnknown
	}
}

// String returns the canonical feed token for the status.
func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "Alive"
	case StatusDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// MirrorRecord is one mirror's reported state. Version and Revision are
// kept as the raw feed tokens (numeric-as-text); they are parsed only at
// selection time so that a malformed token surfaces as a selection error
// instead of being silently miscompared.
type MirrorRecord struct {
	URL      string
	Status   Status
	Version  string
	Revision string
}

// RegionPath is a hierarchical region key with "/" separating the levels,
// e.g. "NA/USA". Regions are independent: selection for one region never
// consults another.
type RegionPath string

// Join builds a RegionPath from its levels.
func Join(levels ...string) RegionPath {
	return RegionPath(strings.Join(levels, "/"))
}

type bucket struct {
	path    RegionPath
	records []MirrorRecord
}

// Snapshot is an ordered mapping from RegionPath to the mirrors reported
// under it, in feed document order.
type Snapshot struct {
	buckets []bucket
	index   map[RegionPath]int
}

// Records returns the mirrors reported under path, in document order.
// A region absent from the feed yields nil.
func (s *Snapshot) Records(path RegionPath) []MirrorRecord {
	i, ok := s.index[path]
	if !ok {
		return nil
	}
	return s.buckets[i].records
}

// Regions returns every region that reported at least one mirror, in
// document order.
func (s *Snapshot) Regions() []RegionPath {
	out := make([]RegionPath, len(s.buckets))
	for i, b := range s.buckets {
		out[i] = b.path
	}
	return out
}

// MirrorCount returns the total number of mirror records in the snapshot.
func (s *Snapshot) MirrorCount() int {
	n := 0
	for _, b := range s.buckets {
		n += len(b.records)
	}
	return n
}

// Decode reads the status feed from r. It uses token-level JSON decoding
// rather than map unmarshalling: Go maps have no iteration order, and the
// selection contract requires output that is order-stable with respect to
// the feed.
func Decode(r io.Reader) (*Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	root, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decode feed: %w", err)
	}
	obj, ok := root.(*object)
	if !ok {
		return nil, fmt.Errorf("snapshot: feed root is not a JSON object")
	}

	snap := &Snapshot{index: make(map[RegionPath]int)}
	walk(obj, nil, snap)
	return snap, nil
}

// object is a JSON object with its keys in document order.
type object struct {
	keys []string
	vals map[string]any
}

func (o *object) get(key string) (any, bool) {
	v, ok := o.vals[key]
	return v, ok
}

// stringField returns the named field as a string. A json.Number is
// accepted and rendered verbatim, so feeds that emit bare numbers for
// version tokens still decode.
func (o *object) stringField(key string) (string, bool) {
	v, ok := o.vals[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeFrom(dec, tok)
}

func decodeFrom(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &object{vals: make(map[string]any)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string: %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				if _, dup := obj.vals[key]; !dup {
					obj.keys = append(obj.keys, key)
				}
				obj.vals[key] = val
			}
			// Consume '}'.
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			var arr []any
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	default:
		// string, json.Number, bool, nil.
		return tok, nil
	}
}

// isRecord reports whether an object is a mirror record leaf: the feed
// contract marks records with a string (or numeric) "status" field.
func isRecord(o *object) bool {
	_, ok := o.stringField("status")
	return ok
}

// walk classifies each child of a region node: record leaves are appended
// to the node's bucket, nested objects are deeper region levels. Scalars,
// arrays, and unknown record fields are tolerated and ignored.
func walk(o *object, levels []string, snap *Snapshot) {
	var records []MirrorRecord
	for _, key := range o.keys {
		child, _ := o.get(key)
		sub, ok := child.(*object)
		if !ok {
			continue
		}
		if isRecord(sub) {
			records = append(records, toRecord(sub))
			continue
		}
		walk(sub, append(levels, key), snap)
	}
	if len(records) > 0 {
		path := Join(levels...)
		snap.index[path] = len(snap.buckets)
		snap.buckets = append(snap.buckets, bucket{path: path, records: records})
	}
}

func toRecord(o *object) MirrorRecord {
	var rec MirrorRecord
	rec.URL, _ = o.stringField("url")
	status, _ := o.stringField("status")
	rec.Status = ParseStatus(status)
	rec.Version, _ = o.stringField("releaseVersion")
	rec.Revision, _ = o.stringField("revision")
	return rec
}
