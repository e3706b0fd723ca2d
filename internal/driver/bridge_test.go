package driver

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// writeSidecar materializes a shell script standing in for the real sidecar.
func writeSidecar(t *testing.T, body string) []string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell sidecar scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "sidecar.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write sidecar script: %v", err)
	}
	return []string{"/bin/sh", path}
}

func newTestBridge(t *testing.T, body string) *Bridge {
	t.Helper()
	b, err := NewBridge(BridgeConfig{
		Command:        writeSidecar(t, body),
		AuthDir:        t.TempDir(),
		SessionID:      "test-session",
		RequestTimeout: 200 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to start bridge: %v", err)
	}
	t.Cleanup(func() { b.Destroy(context.Background()) })
	return b
}

// echoSidecar replies ok to every request, echoing the request id.
const echoSidecar = `while read line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  printf '{"id":"%s","ok":true,"data":"CONNECTED"}\n' "$id"
done
`

func TestBridge_RoundTrip(t *testing.T) {
	b := newTestBridge(t, echoSidecar)
	ctx := context.Background()

	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	state, err := b.State(ctx)
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	if state != "CONNECTED" {
		t.Errorf("expected CONNECTED, got %q", state)
	}
}

func TestBridge_ErrorReply(t *testing.T) {
	b := newTestBridge(t, `while read line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  printf '{"id":"%s","ok":false,"error":"profile locked"}\n' "$id"
done
`)

	err := b.Initialize(context.Background())
	if err == nil || err.Error() != "profile locked" {
		t.Fatalf("expected sidecar error surfaced, got %v", err)
	}
}

func TestBridge_EventStream(t *testing.T) {
	b := newTestBridge(t, `printf '{"event":"qr","payload":"qr-data"}\n'
printf '{"event":"loading","percent":50,"message":"syncing"}\n'
cat >/dev/null
`)

	want := []Event{
		{Type: EventQR, Payload: "qr-data"},
		{Type: EventLoading, Percent: 50, Message: "syncing"},
	}
	for i, exp := range want {
		select {
		case got := <-b.Events():
			if got != exp {
				t.Errorf("event %d: expected %+v, got %+v", i, exp, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBridge_DestroyClosesEventStream(t *testing.T) {
	b := newTestBridge(t, "cat >/dev/null\n")

	if err := b.Destroy(context.Background()); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}

	select {
	case _, open := <-b.Events():
		if open {
			t.Error("expected event stream to be closed after destroy")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event stream close")
	}

	// Idempotent.
	if err := b.Destroy(context.Background()); err != nil {
		t.Errorf("second destroy must be a no-op, got %v", err)
	}
}

func TestBridge_ProcessExitFailsPendingRequests(t *testing.T) {
	b := newTestBridge(t, "exit 0\n")

	err := b.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected an error once the sidecar exits without replying")
	}

	select {
	case _, open := <-b.Events():
		if open {
			t.Error("expected event stream to close when the process dies")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event stream close")
	}
}

func TestNewBridge_RequiresCommand(t *testing.T) {
	if _, err := NewBridge(BridgeConfig{}, zerolog.Nop()); err == nil {
		t.Fatal("expected an error for an empty command")
	}
}
