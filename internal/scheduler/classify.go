package scheduler

import (
	"context"
	stderrors "errors"
	"net"

	cerrors "github.com/yunfie-twitter/ytdlp-api/internal/errors"
)

// isTransient classifies a failed attempt per SPEC_FULL §4.4: validation,
// path-traversal, auth and invalid-state errors are permanent; timeouts,
// connection errors, external (e.g. coordination-store) and
// resource-exceeded errors, and any other or unclassified error are
// retried with a de-prioritised re-enqueue.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	switch cerrors.KindOf(err) {
	case cerrors.KindValidation, cerrors.KindPathTraversal, cerrors.KindAuth, cerrors.KindInvalidState:
		return false
	case cerrors.KindTimeout, cerrors.KindExternal, cerrors.KindResourceExceeded:
		return true
	default:
		// An unclassified error (bare exec/IO failure from the extractor,
		// for instance) is treated as transient: spurious subprocess
		// failures are common and retrying is cheap relative to losing
		// work outright.
		return true
	}
}
