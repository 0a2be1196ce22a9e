package domain

import (
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"
)

func TestKindOf(t *testing.T) {
	base := E(KindNetwork, "fetch products", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("run: %w", base)

	if got := KindOf(wrapped); got != KindNetwork {
		t.Errorf("KindOf = %q, want network", got)
	}
	if got := KindOf(io.EOF); got != KindUnknown {
		t.Errorf("KindOf(plain) = %q, want unknown", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q", got)
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("expected the cause to stay reachable")
	}
}

func TestEAttachesStack(t *testing.T) {
	err := E(KindFilesystem, "write csv", io.ErrShortWrite)

	var de *Error
	if !errors.As(err, &de) {
		t.Fatal("expected *Error")
	}
	if _, ok := de.Err.(stackTracer); !ok {
		t.Error("expected a stack trace on the wrapped error")
	}
	if E(KindAuth, "op", nil) != nil {
		t.Error("E(nil) must be nil")
	}
	if got := err.Error(); got != "write csv: filesystem error: short write" {
		t.Errorf("Error() = %q", got)
	}
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus(" Completed ")
	if !ok || s != StatusCompleted {
		t.Errorf("ParseStatus = %q, %v", s, ok)
	}
	if !s.Terminal() || StatusProcessing.Terminal() {
		t.Error("unexpected Terminal result")
	}
	if _, ok := ParseStatus("draft"); ok {
		t.Error("draft is not a status")
	}
	if Status("draft").Label() != "Unknown" || StatusProcessing.Label() != "In progress" {
		t.Error("unexpected labels")
	}
}
