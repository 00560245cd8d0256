// Package source defines the contracts to the external directory fleet:
// topology resolution, replication metadata queries and repair actuation.
// All protocol-specific parsing lives in the adapters here; the rest of the
// engine only sees the model types.
package source

import (
	"context"
	"fmt"

	"replwatch/internal/model"
)

// RemoteError is a classified failure from a directory server. It implements
// Transient() so the retry executor can pick the right policy.
type RemoteError struct {
	Op        string // "resolve", "query", "apply", "capture", "restore"
	Node      string
	Code      int // raw protocol result code, 0 when unknown
	Retryable bool
	Err       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: code=%d: %v", e.Op, e.Node, e.Code, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *RemoteError) Transient() bool { return e.Retryable }

// Resolver enumerates the fleet for a scope selector. A failure is fatal
// for the whole run: there is nothing to evaluate.
type Resolver interface {
	Resolve(ctx context.Context, scope model.Scope) ([]model.Node, error)
}

// DataSource queries one node's replication metadata.
type DataSource interface {
	Query(ctx context.Context, node model.Node) (model.Snapshot, error)
}

// Actuator applies remedies and round-trips opaque pre-action state blobs.
type Actuator interface {
	Apply(ctx context.Context, node model.Node, remedy model.Remedy) error
	CaptureState(ctx context.Context, node model.Node) ([]byte, error)
	Restore(ctx context.Context, node model.Node, blob []byte) error
}
