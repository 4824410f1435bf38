package mvstore

import (
	"errors"
	"testing"
)

func TestStoreErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := newError(CodeWritingFailed, cause, "write chunk %d", 3)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not see through StoreError.Unwrap to the cause")
	}
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatal("errors.As failed to extract *StoreError")
	}
	if se.Code != CodeWritingFailed {
		t.Errorf("Code = %v, want %v", se.Code, CodeWritingFailed)
	}
}

func TestStoreErrorWithoutCause(t *testing.T) {
	err := newError(CodeIllegalArgument, nil, "bad key %q", "x")
	if err.Unwrap() != nil {
		t.Error("Unwrap() should be nil when no cause was given")
	}
	if err.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

func TestCodeStringCoversEveryConstant(t *testing.T) {
	codes := []Code{
		CodeFileCorrupt, CodeFileLocked, CodeReadingFailed, CodeWritingFailed,
		CodeUnsupportedFormat, CodeClosed, CodeIllegalArgument,
		CodeUnsupportedOperation, CodeInternal,
	}
	seen := make(map[string]bool)
	for _, c := range codes {
		s := c.String()
		if s == "Unknown" {
			t.Errorf("Code %d stringified as Unknown", c)
		}
		if seen[s] {
			t.Errorf("Code %d shares its string %q with another code", c, s)
		}
		seen[s] = true
	}
}
