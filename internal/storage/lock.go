package storage

import (
	"fmt"
	"io"
	"time"

	"github.com/quillstore/quillstore/internal/uid"
)

// DefaultLockRefresh is how often a held lease lock is re-asserted when the
// configuration does not say otherwise.
const DefaultLockRefresh = 900 * time.Second

// LockContext tracks the lease lock of one document session. It lives with
// the session, not the backend, so a re-created backend keeps lock state.
type LockContext struct {
	// SupportsLocks is latched to true the first time the host declares
	// lock support; the lock token is generated at that moment.
	SupportsLocks bool
	// IsLocked reflects the last successful lock or unlock exchange.
	IsLocked bool
	// Token identifies our hold on the document to the host.
	Token string
	// LastLockTime is when the lock was last asserted successfully.
	LastLockTime time.Time
	// FailureReason is the host's explanation for the last refused lock
	// operation, empty after a success.
	FailureReason string
	// RefreshInterval is how often a held lock is re-asserted; zero or
	// negative disables refreshing.
	RefreshInterval time.Duration
}

// NewLockContext returns a lock context with the given refresh cadence.
func NewLockContext(refresh time.Duration) *LockContext {
	return &LockContext{RefreshInterval: refresh}
}

// InitSupportsLocks records that the host supports locking and generates
// the lock token. Idempotent; the token never changes once generated.
func (lc *LockContext) InitSupportsLocks() {
	if lc.SupportsLocks {
		return
	}
	lc.SupportsLocks = true
	lc.Token = "quill-lock" + uid.NewN(8)
}

// NeedsRefresh reports whether a held lock is due for re-assertion at now.
func (lc *LockContext) NeedsRefresh(now time.Time) bool {
	return lc.SupportsLocks && lc.IsLocked &&
		lc.RefreshInterval > 0 &&
		now.Sub(lc.LastLockTime) >= lc.RefreshInterval
}

// DumpState writes the lock state for diagnostics.
func (lc *LockContext) DumpState(w io.Writer) {
	fmt.Fprintf(w, "  supportsLocks: %v\n", lc.SupportsLocks)
	fmt.Fprintf(w, "  isLocked: %v\n", lc.IsLocked)
	fmt.Fprintf(w, "  lockToken: %s\n", lc.Token)
	fmt.Fprintf(w, "  lastLockTime: %s\n", lc.LastLockTime.Format(time.RFC3339))
	fmt.Fprintf(w, "  refreshInterval: %s\n", lc.RefreshInterval)
	if lc.FailureReason != "" {
		fmt.Fprintf(w, "  lockFailureReason: %s\n", lc.FailureReason)
	}
}
