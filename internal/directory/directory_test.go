package directory

import (
	"net/netip"
	"testing"
	"time"

	"miniplex/internal/endpoint"
	"miniplex/internal/strand"
)

func ep(port uint16) endpoint.Endpoint {
	return endpoint.New(netip.MustParseAddr("10.0.0.1"), port)
}

func TestObserveAddsToActiveBranch(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	d := New(s, time.Hour, endpoint.Endpoint{}, false, nil)

	a, b := ep(1), ep(2)
	var branches []endpoint.Endpoint
	s.PostWait(func() {
		d.Observe(a)
		branches = d.Observe(b)
	})

	if len(branches) != 2 || branches[0] != a || branches[1] != b {
		t.Fatalf("branches = %v, want [%v %v]", branches, a, b)
	}
}

func TestObserveIdempotentWithNoElapsedTime(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	d := New(s, time.Hour, endpoint.Endpoint{}, false, nil)
	a := ep(1)

	var once, twice []endpoint.Endpoint
	s.PostWait(func() {
		once = d.Observe(a)
		twice = d.Observe(a)
	})

	if len(once) != len(twice) || once[0] != twice[0] {
		t.Fatalf("Observe twice in succession changed result: %v vs %v", once, twice)
	}
}

func TestObserveFromTrunkDoesNotRefreshActiveBranch(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	trunk := ep(9)
	d := New(s, time.Hour, trunk, true, nil)

	var branches []endpoint.Endpoint
	s.PostWait(func() { branches = d.Observe(trunk) })

	if len(branches) != 0 {
		t.Fatalf("observing the trunk should not populate ActiveBranch, got %v", branches)
	}
}

func TestPermaBranchInvariant(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	p1, p2 := ep(1), ep(2)
	d := New(s, time.Hour, endpoint.Endpoint{}, false, []endpoint.Endpoint{p1, p2})

	s.PostWait(func() { d.Observe(p1) })

	var active, perma, inactive []endpoint.Endpoint
	s.PostWait(func() {
		active = d.ActiveBranches()
		perma = d.PermaBranches()
		inactive = d.InactivePermaBranches()
	})

	if len(perma) != 2 {
		t.Fatalf("PermaBranches() = %v, want 2 entries", perma)
	}
	if len(active) != 1 || active[0] != p1 {
		t.Fatalf("ActiveBranches() = %v, want [%v]", active, p1)
	}
	if len(inactive) != 1 || inactive[0] != p2 {
		t.Fatalf("InactivePermaBranches() = %v, want [%v]", inactive, p2)
	}
}

func TestExpiryMovesPermaBranchBackToInactive(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	p1 := ep(1)
	d := New(s, 40*time.Millisecond, endpoint.Endpoint{}, false, []endpoint.Endpoint{p1})

	s.PostWait(func() { d.Observe(p1) })

	var inactiveBefore []endpoint.Endpoint
	s.PostWait(func() { inactiveBefore = d.InactivePermaBranches() })
	if len(inactiveBefore) != 0 {
		t.Fatalf("expected p1 active right after Observe, inactive = %v", inactiveBefore)
	}

	deadline := time.After(2 * time.Second)
	for {
		var inactive []endpoint.Endpoint
		s.PostWait(func() { inactive = d.InactivePermaBranches() })
		if len(inactive) == 1 && inactive[0] == p1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for perma-branch to become inactive after expiry")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAddressBranchesAssociatesPerAddr(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	d := New(s, time.Hour, endpoint.Endpoint{}, false, nil)
	a, b := ep(1), ep(2)

	var forAddr1, forAddr2 []endpoint.Endpoint
	s.PostWait(func() {
		forAddr1 = d.AddressBranches(a, 1, true)
		d.AddressBranches(b, 2, true)
		forAddr2 = d.AddressBranches(a, 2, false)
	})

	if len(forAddr1) != 1 || forAddr1[0] != a {
		t.Fatalf("AddressBranches(addr=1) = %v, want [%v]", forAddr1, a)
	}
	if len(forAddr2) != 1 || forAddr2[0] != b {
		t.Fatalf("AddressBranches(addr=2, associate=false) = %v, want [%v] (no assoc)", forAddr2, b)
	}
}
