package forwarding

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"miniplex/internal/directory"
	"miniplex/internal/endpoint"
	"miniplex/internal/strand"
	"miniplex/internal/vm"
)

func ep(port uint16) endpoint.Endpoint {
	return endpoint.New(netip.MustParseAddr("10.0.0.1"), port)
}

func containsEndpoint(set []endpoint.Endpoint, target endpoint.Endpoint) bool {
	for _, e := range set {
		if e == target {
			return true
		}
	}
	return false
}

func TestHubBroadcastsToAllOtherActiveBranches(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	dir := directory.New(s, time.Hour, endpoint.Endpoint{}, false, nil)
	eng := New(Hub, dir, nil, 0, 0)

	a, b, c := ep(1), ep(2), ep(3)
	var targets []endpoint.Endpoint
	s.PostWait(func() {
		eng.Dispatch(a, nil)
		eng.Dispatch(b, nil)
		targets, _ = eng.Dispatch(c, nil)
	})

	if len(targets) != 2 || !containsEndpoint(targets, a) || !containsEndpoint(targets, b) {
		t.Fatalf("Hub targets = %v, want [%v %v]", targets, a, b)
	}
}

func TestTrunkFromNonTrunkSenderGoesOnlyToTrunk(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	trunk := ep(9)
	dir := directory.New(s, time.Hour, trunk, true, nil)
	eng := New(Trunk, dir, nil, 0, 0)

	branch := ep(1)
	var targets []endpoint.Endpoint
	s.PostWait(func() {
		targets, _ = eng.Dispatch(branch, nil)
	})

	if len(targets) != 1 || targets[0] != trunk {
		t.Fatalf("Trunk targets from branch = %v, want [%v]", targets, trunk)
	}
}

func TestTrunkFromTrunkSenderBroadcastsToBranches(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	trunk := ep(9)
	dir := directory.New(s, time.Hour, trunk, true, nil)
	eng := New(Trunk, dir, nil, 0, 0)

	a, b := ep(1), ep(2)
	var targets []endpoint.Endpoint
	s.PostWait(func() {
		eng.Dispatch(a, nil)
		eng.Dispatch(b, nil)
		targets, _ = eng.Dispatch(trunk, nil)
	})

	if len(targets) != 2 || !containsEndpoint(targets, a) || !containsEndpoint(targets, b) {
		t.Fatalf("Trunk broadcast targets = %v, want [%v %v]", targets, a, b)
	}
}

func TestPruneFirstSeenIsTheChosenBranch(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	trunk := ep(9)
	dir := directory.New(s, time.Hour, trunk, true, nil)
	eng := New(Prune, dir, nil, 0, 0)

	first, second := ep(1), ep(2)

	var firstResult, secondResult []endpoint.Endpoint
	var secondErr error
	s.PostWait(func() {
		firstResult, _ = eng.Dispatch(first, nil)
		secondResult, secondErr = eng.Dispatch(second, nil)
	})

	if len(firstResult) != 1 || firstResult[0] != trunk {
		t.Fatalf("Prune first branch targets = %v, want [%v]", firstResult, trunk)
	}
	if secondErr != nil || secondResult != nil {
		t.Fatalf("Prune second branch should be dropped silently, got targets=%v err=%v", secondResult, secondErr)
	}
}

func TestPruneTrunkSendsToChosenBranch(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	trunk := ep(9)
	dir := directory.New(s, time.Hour, trunk, true, nil)
	eng := New(Prune, dir, nil, 0, 0)

	chosen := ep(1)
	var targets []endpoint.Endpoint
	s.PostWait(func() {
		eng.Dispatch(chosen, nil) // establishes chosen as branches[0]
		targets, _ = eng.Dispatch(trunk, nil)
	})

	if len(targets) != 1 || targets[0] != chosen {
		t.Fatalf("Prune trunk-send targets = %v, want [%v]", targets, chosen)
	}
}

const ebreak = 0x00100073

func iType(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return opcode | (rd << 7) | (funct3 << 12) | (rs1 << 15) | (uint32(imm) << 20)
}
func sType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return opcode | (u&0x1f)<<7 | (funct3 << 12) | (rs1 << 15) | (rs2 << 20) | ((u>>5)&0x7f)<<25
}
func encode(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func trivialSrcDstProgram() []byte {
	return encode(
		iType(0x03, 6, 5, 10, 0),
		iType(0x03, 6, 6, 10, 4),
		sType(0x23, 3, 12, 5, 0),
		sType(0x23, 3, 13, 6, 0),
		iType(0x13, 0, 10, 0, 0),
		ebreak,
	)
}

func datagramWithIDs(src, dst uint32) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], src)
	binary.LittleEndian.PutUint32(buf[4:8], dst)
	return buf
}

func TestSwitchFirstOwnerOfSrcIDWins(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	dir := directory.New(s, time.Hour, endpoint.Endpoint{}, false, nil)
	m := vm.New(256)
	entry, err := m.ProgramLoad(trivialSrcDstProgram())
	if err != nil {
		t.Fatalf("ProgramLoad: %v", err)
	}
	eng := New(Switch, dir, m, entry, 1000)

	owner, impostor := ep(1), ep(2)

	var ownerTargets, impostorTargets []endpoint.Endpoint
	var impostorErr error
	s.PostWait(func() {
		ownerTargets, _ = eng.Dispatch(owner, datagramWithIDs(1, 2))
		impostorTargets, impostorErr = eng.Dispatch(impostor, datagramWithIDs(1, 3))
	})

	// No known owner of dst_id=2 yet, so owner's datagram broadcasts to
	// ActiveBranch ∪ InactivePermaBranches: ActiveBranch holds only the
	// owner itself, which is excluded as the sender, and there are no
	// perma-branches.
	if len(ownerTargets) != 0 {
		t.Fatalf("owner's first datagram targets = %v, want []", ownerTargets)
	}
	if impostorErr != nil || impostorTargets != nil {
		t.Fatalf("impostor claiming src_id=1 should be dropped, got targets=%v err=%v", impostorTargets, impostorErr)
	}
}

func TestSwitchDeliversToKnownDstOwner(t *testing.T) {
	s := strand.New(8)
	defer s.Close()

	dir := directory.New(s, time.Hour, endpoint.Endpoint{}, false, nil)
	m := vm.New(256)
	entry, _ := m.ProgramLoad(trivialSrcDstProgram())
	eng := New(Switch, dir, m, entry, 1000)

	ownerOf2, ownerOf5 := ep(1), ep(2)

	var secondTargets []endpoint.Endpoint
	s.PostWait(func() {
		// ownerOf2 announces itself as the owner of src_id=2.
		eng.Dispatch(ownerOf2, datagramWithIDs(2, 99))
		// ownerOf5 sends with src_id=5, dst_id=2 -- dst owner is known (ownerOf2).
		secondTargets, _ = eng.Dispatch(ownerOf5, datagramWithIDs(5, 2))
	})

	if len(secondTargets) != 1 || secondTargets[0] != ownerOf2 {
		t.Fatalf("Switch dst-routed targets = %v, want [%v]", secondTargets, ownerOf2)
	}
}
