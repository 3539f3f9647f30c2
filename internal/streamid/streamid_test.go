package streamid

import "testing"

func TestCallerIdsAreOddAndMonotonic(t *testing.T) {
	m := New(Caller)
	seen := map[uint32]bool{}
	prev := uint32(0)
	for i := 0; i < 5; i++ {
		id := m.Next()
		if id%2 != 1 {
			t.Fatalf("caller id %d is not odd", id)
		}
		if id <= prev {
			t.Fatalf("id %d did not increase past %d", id, prev)
		}
		if seen[id] {
			t.Fatalf("id %d reused", id)
		}
		seen[id] = true
		prev = id
	}
	if first := uint32(1); !seen[first] {
		t.Fatalf("expected first caller id to be 1")
	}
}

func TestResponderIdsAreEvenAndMonotonic(t *testing.T) {
	m := New(Responder)
	prev := uint32(0)
	for i := 0; i < 5; i++ {
		id := m.Next()
		if id%2 != 0 {
			t.Fatalf("responder id %d is not even", id)
		}
		if id <= prev {
			t.Fatalf("id %d did not increase past %d", id, prev)
		}
		prev = id
	}
}

func TestRoleOf(t *testing.T) {
	if RoleOf(1) != Caller {
		t.Error("1 should be Caller")
	}
	if RoleOf(2) != Responder {
		t.Error("2 should be Responder")
	}
}
