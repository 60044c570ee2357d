package ratelimit

import "testing"

func TestLimiter_PerCallerBudget(t *testing.T) {
	l := NewLimiter(Config{
		GlobalRPS:   1000,
		GlobalBurst: 1000,
		CallerRPS:   1,
		CallerBurst: 2,
	})

	if !l.Allow("alice") || !l.Allow("alice") {
		t.Fatal("burst requests must pass")
	}
	if l.Allow("alice") {
		t.Error("third request must exceed the caller burst")
	}
	if !l.Allow("bob") {
		t.Error("a different caller has its own bucket")
	}
}

func TestLimiter_GlobalBudget(t *testing.T) {
	l := NewLimiter(Config{
		GlobalRPS:   1,
		GlobalBurst: 1,
		CallerRPS:   100,
		CallerBurst: 100,
	})

	if !l.Allow("alice") {
		t.Fatal("first request must pass")
	}
	if l.Allow("bob") {
		t.Error("global budget applies across callers")
	}
}

func TestLimiter_SetCallerLimit(t *testing.T) {
	l := NewLimiter(DefaultConfig())
	l.SetCallerLimit("alice", 1, 1)

	if !l.Allow("alice") {
		t.Fatal("first request must pass")
	}
	if l.Allow("alice") {
		t.Error("override burst of one must reject the second request")
	}

	l.RemoveCaller("alice")
	if !l.Allow("alice") {
		t.Error("removing the override restores the default bucket")
	}
}
