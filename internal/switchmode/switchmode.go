// Package switchmode implements the Switch-mode VM calling convention
// from spec.md §6: the fixed argument-register contract a datagram
// classifier bytecode program is invoked under to extract a
// (src_id, dst_id) pair from a datagram's payload.
//
// Grounded on original_source/src/MiniPlex.cpp's Rcv/RcvHandler (the
// C++ original's equivalent pre-call register setup) and spec.md §6's
// bit-exact description, since no pack example defines a bytecode ABI
// of this shape.
package switchmode

import (
	"errors"

	"miniplex/internal/vm"
)

// ErrExtractionFailed is returned when the bytecode halts with a0 != 0,
// signaling it could not classify the datagram.
var ErrExtractionFailed = errors.New("switchmode: bytecode reported extraction failure")

const (
	regA0 = 10
	regA1 = 11
	regA2 = 12
	regA3 = 13
)

// GetSrcDst runs the given VM's loaded program against data under the
// calling convention from spec.md §6: two zeroed stack slots are pushed
// (dst then src), a0 is the data buffer's virtual address, a1 its
// length, a2 the src slot's address, a3 the dst slot's address. Success
// requires the program halt with a0 == 0; the src/dst values are then
// read back from their slot addresses.
func GetSrcDst(m *vm.VM, entryPoint uint64, maxInstructions int, data []byte) (src, dst uint64, err error) {
	dataAddr := m.MapDataMem(data)

	dstAddr, err := m.StackPush64(0)
	if err != nil {
		return 0, 0, err
	}
	srcAddr, err := m.StackPush64(0)
	if err != nil {
		return 0, 0, err
	}

	if err := m.RegisterSet(regA0, dataAddr); err != nil {
		return 0, 0, err
	}
	if err := m.RegisterSet(regA1, uint64(len(data))); err != nil {
		return 0, 0, err
	}
	if err := m.RegisterSet(regA2, srcAddr); err != nil {
		return 0, 0, err
	}
	if err := m.RegisterSet(regA3, dstAddr); err != nil {
		return 0, 0, err
	}

	if err := m.ExecuteProgram(entryPoint, maxInstructions); err != nil {
		return 0, 0, err
	}

	status, err := m.RegisterGet(regA0)
	if err != nil {
		return 0, 0, err
	}
	if status != 0 {
		return 0, 0, ErrExtractionFailed
	}

	src, err = m.LoadU64(srcAddr)
	if err != nil {
		return 0, 0, err
	}
	dst, err = m.LoadU64(dstAddr)
	if err != nil {
		return 0, 0, err
	}
	return src, dst, nil
}
