package syncsvc

import "fmt"

// SyncError wraps a single order's normalization failure with enough
// context to replay the input.
type SyncError struct {
	EntityID    int64
	IncrementID string
	Err         error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed for order %s (entity %d): %v", e.IncrementID, e.EntityID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
