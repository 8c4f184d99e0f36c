package ziperr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"
)

func TestErrorIsKind(t *testing.T) {
	err := New("create", "/tmp/a.txt", NotFound, os.ErrNotExist)

	if !errors.Is(err, NotFound) {
		t.Error("errors.Is(err, NotFound) = false, expected true")
	}
	if errors.Is(err, IOFailure) {
		t.Error("errors.Is(err, IOFailure) = true, expected false")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("underlying cause should still match")
	}
}

func TestErrorIsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("job failed: %w", New("extract", "x.zip", FormatFailure, nil))

	if !errors.Is(err, FormatFailure) {
		t.Error("wrapped error lost its kind")
	}
	if KindOf(err) != FormatFailure {
		t.Errorf("KindOf = %v, expected %v", KindOf(err), FormatFailure)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"full", New("create", "out.zip", IOFailure, errors.New("disk full")), "create out.zip: io failure: disk full"},
		{"no path", New("unpack", "", EmptyArchive, nil), "unpack: empty archive"},
		{"errorf", Errorf("stage", "d", Conflict, "exists: %d", 1), "stage d: conflict: exists: 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, expected %q", got, tt.want)
			}
		})
	}
}

func TestFromFS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not exist", &fs.PathError{Op: "stat", Path: "x", Err: fs.ErrNotExist}, NotFound},
		{"exist", &fs.PathError{Op: "mkdir", Path: "x", Err: fs.ErrExist}, Conflict},
		{"permission", &fs.PathError{Op: "open", Path: "x", Err: fs.ErrPermission}, IOFailure},
		{"already classified", New("extract", "x", FormatFailure, nil), FormatFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KindOf(FromFS("op", "x", tt.err))
			if got != tt.want {
				t.Errorf("KindOf(FromFS) = %v, expected %v", got, tt.want)
			}
		})
	}

	if FromFS("op", "x", nil) != nil {
		t.Error("FromFS(nil) should be nil")
	}
}

func TestKindOfForeignError(t *testing.T) {
	if KindOf(errors.New("boom")) != Unknown {
		t.Error("foreign error should be Unknown")
	}
	if KindOf(Conflict) != Conflict {
		t.Error("bare kind should report itself")
	}
}
