package offer

import "testing"

func TestCanTransition(t *testing.T) {
	if !CanTransition(StatusIdle, StatusPending) {
		t.Fatal("expected idle -> pending to be allowed")
	}
	if !CanTransition(StatusPending, StatusAccepting) {
		t.Fatal("expected pending -> accepting to be allowed")
	}
	if CanTransition(StatusPending, StatusAccepted) {
		t.Fatal("pending -> accepted must pass through accepting")
	}
	if CanTransition(StatusAccepting, StatusExpired) {
		t.Fatal("an accepting offer cannot expire")
	}
	if CanTransition(StatusExpired, StatusPending) {
		t.Fatal("terminal offers cannot return to pending")
	}
	if CanTransition(StatusAccepting, StatusPending) {
		t.Fatal("failed accepts are not re-offered")
	}
	if CanTransition(StatusPending, StatusPending) {
		t.Fatal("same status is not a transition")
	}
	for _, s := range []Status{StatusAccepted, StatusExpired, StatusDismissed, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
		if !CanTransition(s, StatusIdle) {
			t.Fatalf("expected %s -> idle to be allowed", s)
		}
	}
	for _, s := range []Status{StatusIdle, StatusPending, StatusAccepting} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}
