package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestKindHelpers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"unauthorized", New(KindUnauthorized, "denied"), IsUnauthorized},
		{"bad request", Newf(KindBadRequest, "locator %q", "::bad::"), IsBadRequest},
		{"connection", Wrap(KindConnection, "host unreachable", stderrors.New("dial")), IsConnection},
		{"disk space", New(KindDiskSpace, "below threshold"), IsDiskSpace},
		{"protocol violation", Wrap(KindProtocolViolation, "unparsable body", stderrors.New("invalid character")), IsProtocolViolation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.is(tc.err) {
				t.Errorf("helper rejected %v", tc.err)
			}
			for _, other := range tests {
				if other.name == tc.name {
					continue
				}
				if other.is(tc.err) {
					t.Errorf("%s helper accepted %v", other.name, tc.err)
				}
			}
		})
	}
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	inner := New(KindProtocolViolation, "unparsable body")
	outer := fmt.Errorf("save failed: %w", inner)
	if !IsProtocolViolation(outer) {
		t.Errorf("wrapped kind not recognized: %v", outer)
	}
	if IsProtocolViolation(stderrors.New("plain")) {
		t.Error("plain error misclassified")
	}
}

func TestErrorStringCarriesKindAndCause(t *testing.T) {
	err := Wrap(KindConnection, "fetching metadata", stderrors.New("timeout"))
	if got := err.Error(); got != "connection: fetching metadata: timeout" {
		t.Errorf("Error() = %q", got)
	}
	if got := New(KindBadRequest, "empty locator").Error(); got != "bad_request: empty locator" {
		t.Errorf("Error() = %q", got)
	}
}
