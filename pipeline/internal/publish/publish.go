// Package publish uploads a staged artifact bundle to the hosting target.
//
// The hosting protocol is opaque to the pipeline: a Target takes a fully
// staged directory and makes it visible as one atomic unit. Two targets
// ship with the binary: a local static-root target that swaps a symlink,
// and an HTTP target that posts the bundle to a hosting API. Either way a
// failed publish leaves the previously served artifact untouched.
package publish

import "context"

// Target publishes one artifact bundle.
type Target interface {
	// Publish uploads dir atomically and returns the URL the artifact is
	// served from. Partially transferred bundles must never become
	// visible to readers of the hosting target.
	Publish(ctx context.Context, dir string) (string, error)
}
