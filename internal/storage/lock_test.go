package storage

import (
	"strings"
	"testing"
	"time"
)

func TestInitSupportsLocksGeneratesTokenOnce(t *testing.T) {
	lc := NewLockContext(DefaultLockRefresh)
	if lc.SupportsLocks {
		t.Fatal("lock support latched before init")
	}

	lc.InitSupportsLocks()
	if !lc.SupportsLocks {
		t.Fatal("lock support not latched")
	}
	if !strings.HasPrefix(lc.Token, "quill-lock") {
		t.Errorf("token = %q, want quill-lock prefix", lc.Token)
	}
	if len(lc.Token) != len("quill-lock")+8 {
		t.Errorf("token length = %d, want %d", len(lc.Token), len("quill-lock")+8)
	}

	first := lc.Token
	lc.InitSupportsLocks()
	if lc.Token != first {
		t.Errorf("token changed on second init: %q -> %q", first, lc.Token)
	}
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		lc   LockContext
		want bool
	}{
		{"unsupported", LockContext{IsLocked: true, RefreshInterval: time.Second, LastLockTime: now.Add(-time.Hour)}, false},
		{"unlocked", LockContext{SupportsLocks: true, RefreshInterval: time.Second, LastLockTime: now.Add(-time.Hour)}, false},
		{"disabled", LockContext{SupportsLocks: true, IsLocked: true, RefreshInterval: 0, LastLockTime: now.Add(-time.Hour)}, false},
		{"fresh", LockContext{SupportsLocks: true, IsLocked: true, RefreshInterval: time.Hour, LastLockTime: now.Add(-time.Minute)}, false},
		{"due", LockContext{SupportsLocks: true, IsLocked: true, RefreshInterval: time.Minute, LastLockTime: now.Add(-2 * time.Minute)}, true},
		{"exactly due", LockContext{SupportsLocks: true, IsLocked: true, RefreshInterval: time.Minute, LastLockTime: now.Add(-time.Minute)}, true},
	}
	for _, tc := range tests {
		if got := tc.lc.NeedsRefresh(now); got != tc.want {
			t.Errorf("%s: NeedsRefresh = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDumpStateIncludesFailureReason(t *testing.T) {
	lc := NewLockContext(DefaultLockRefresh)
	lc.InitSupportsLocks()
	lc.FailureReason = "locked by another user"

	var b strings.Builder
	lc.DumpState(&b)
	out := b.String()
	if !strings.Contains(out, lc.Token) {
		t.Error("dump missing lock token")
	}
	if !strings.Contains(out, "locked by another user") {
		t.Error("dump missing failure reason")
	}
}
