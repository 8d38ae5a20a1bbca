// Package forwarding implements the Forwarding Engine from spec.md §4.5:
// the tagged-mode dispatch policy that decides, for each received
// datagram, which branches to forward it to.
//
// Mirrors the tagged-variant dispatch the original C++ used in its
// single MiniPlex::RcvHandler (original_source/src/MiniPlex.cpp) rather
// than an interface-per-mode hierarchy — one Engine, one Dispatch
// method, a mode tag switched on internally, matching how the teacher's
// own udp.go keeps one struct per concern instead of per-variant types.
package forwarding

import (
	"errors"

	"miniplex/internal/directory"
	"miniplex/internal/endpoint"
	"miniplex/internal/switchmode"
	"miniplex/internal/vm"
)

// Mode is the configured forwarding policy (spec.md §1 Overview).
type Mode int

const (
	Hub Mode = iota
	Trunk
	Prune
	Switch
)

func (m Mode) String() string {
	switch m {
	case Hub:
		return "hub"
	case Trunk:
		return "trunk"
	case Prune:
		return "prune"
	case Switch:
		return "switch"
	default:
		return "unknown"
	}
}

// ErrSwitchExtractionFailed is returned by Dispatch in Switch mode when
// the bytecode program could not classify the datagram.
var ErrSwitchExtractionFailed = errors.New("forwarding: switch-mode src/dst extraction failed")

// Engine holds everything Dispatch needs: the mode, the directory it
// consults/updates, and (Switch mode only) the VM used for
// classification.
type Engine struct {
	mode Mode
	dir  *directory.Directory

	// Switch mode only.
	classifyVM      *vm.VM
	entryPoint      uint64
	maxInstructions int
}

// New constructs an Engine. vmInstance/entryPoint/maxInstructions are
// only consulted in Switch mode and may be zero values otherwise.
func New(mode Mode, dir *directory.Directory, vmInstance *vm.VM, entryPoint uint64, maxInstructions int) *Engine {
	return &Engine{
		mode:            mode,
		dir:             dir,
		classifyVM:      vmInstance,
		entryPoint:      entryPoint,
		maxInstructions: maxInstructions,
	}
}

// Dispatch implements spec.md §4.5 for a single received datagram: it
// must run on the processing domain (the same strand the Directory and
// any TimeoutCaches are bound to). data is the datagram payload, used
// only in Switch mode for classification. It returns the set of
// endpoints to forward the datagram to, excluding sender, or an error
// if Switch-mode classification failed. A datagram dropped by policy
// (a non-chosen Prune branch, a Switch src_id owned by another branch)
// yields nil targets and a nil error.
func (e *Engine) Dispatch(sender endpoint.Endpoint, data []byte) ([]endpoint.Endpoint, error) {
	switch e.mode {
	case Hub:
		return e.dispatchHub(sender)
	case Trunk:
		return e.dispatchTrunk(sender)
	case Prune:
		return e.dispatchPrune(sender)
	case Switch:
		return e.dispatchSwitch(sender, data)
	default:
		return nil, errors.New("forwarding: unknown mode")
	}
}

func (e *Engine) dispatchHub(sender endpoint.Endpoint) ([]endpoint.Endpoint, error) {
	branches := e.dir.Observe(sender)
	targets := union(branches, e.dir.InactivePermaBranches())
	return excluding(targets, sender), nil
}

func (e *Engine) dispatchTrunk(sender endpoint.Endpoint) ([]endpoint.Endpoint, error) {
	trunk, _ := e.dir.Trunk()
	branches := e.dir.Observe(sender)
	if sender == trunk {
		targets := union(branches, e.dir.InactivePermaBranches())
		return excluding(targets, sender), nil
	}
	return []endpoint.Endpoint{trunk}, nil
}

func (e *Engine) dispatchPrune(sender endpoint.Endpoint) ([]endpoint.Endpoint, error) {
	trunk, _ := e.dir.Trunk()
	branches := e.dir.Observe(sender)

	if sender != trunk && len(branches) > 0 && sender != branches[0] {
		return nil, nil // drop: another branch already owns the chosen slot
	}
	if sender == trunk {
		if len(branches) == 0 {
			return excluding(e.dir.PermaBranches(), sender), nil
		}
		return excluding([]endpoint.Endpoint{branches[0]}, sender), nil
	}
	return []endpoint.Endpoint{trunk}, nil
}

func (e *Engine) dispatchSwitch(sender endpoint.Endpoint, data []byte) ([]endpoint.Endpoint, error) {
	branches := e.dir.Observe(sender)

	src, dst, err := switchmode.GetSrcDst(e.classifyVM, e.entryPoint, e.maxInstructions, data)
	if err != nil {
		return nil, ErrSwitchExtractionFailed
	}

	srcBranches := e.dir.AddressBranches(sender, src, true)
	dstBranches := e.dir.AddressBranches(sender, dst, false)

	if len(srcBranches) == 0 || srcBranches[0] != sender {
		return nil, nil // drop: another branch already owns src_id
	}

	if len(dstBranches) == 0 {
		targets := union(branches, e.dir.InactivePermaBranches())
		return excluding(targets, sender), nil
	}
	return excluding([]endpoint.Endpoint{dstBranches[0]}, sender), nil
}

func union(a, b []endpoint.Endpoint) []endpoint.Endpoint {
	seen := make(map[endpoint.Endpoint]struct{}, len(a)+len(b))
	out := make([]endpoint.Endpoint, 0, len(a)+len(b))
	for _, ep := range a {
		if _, ok := seen[ep]; !ok {
			seen[ep] = struct{}{}
			out = append(out, ep)
		}
	}
	for _, ep := range b {
		if _, ok := seen[ep]; !ok {
			seen[ep] = struct{}{}
			out = append(out, ep)
		}
	}
	return out
}

func excluding(targets []endpoint.Endpoint, sender endpoint.Endpoint) []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(targets))
	for _, ep := range targets {
		if ep != sender {
			out = append(out, ep)
		}
	}
	return out
}
