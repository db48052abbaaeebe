package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", New(NotFound, "collection %s", "c1"), NotFound},
		{"wrapped cause", Wrap(UpstreamFailure, errors.New("503"), "engine"), UpstreamFailure},
		{"fmt wrapped", fmt.Errorf("outer: %w", New(Forbidden, "no access")), Forbidden},
		{"plain error", errors.New("boom"), Internal},
		{"nil-safe wrap", Wrap(Timeout, nil, "ignored"), Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(Timeout, nil, "conversion"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(Timeout, errors.New("deadline exceeded"), "convert a.pdf")
	want := "convert a.pdf: deadline exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, Timeout) {
		t.Error("Is(err, Timeout) = false, want true")
	}
}
