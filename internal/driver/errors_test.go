package driver

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsCorruptSessionError(t *testing.T) {
	corrupt := []string{
		"Protocol error: Session detached",
		"Error: SESSION conflict on open",
		"browser is already running for this profile",
		"Protocol error (Runtime.callFunctionOn): Target closed",
	}
	for _, msg := range corrupt {
		t.Run(msg, func(t *testing.T) {
			if !IsCorruptSessionError(errors.New(msg)) {
				t.Errorf("expected %q to classify as corrupt", msg)
			}
		})
	}

	clean := []string{
		"connection refused",
		"context deadline exceeded",
		"session expired", // lowercase, not the platform's SESSION marker
		"",
	}
	for _, msg := range clean {
		t.Run(fmt.Sprintf("clean %q", msg), func(t *testing.T) {
			if IsCorruptSessionError(errors.New(msg)) {
				t.Errorf("expected %q to classify as clean", msg)
			}
		})
	}

	if IsCorruptSessionError(nil) {
		t.Error("nil error must not classify as corrupt")
	}
}
