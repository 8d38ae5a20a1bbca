// Package directory implements the Endpoint Directory (spec.md §4.3): the
// "learn on receive, forget on timeout" policy shared by all four
// forwarding modes, aggregating the ActiveBranch cache, the perma-branch
// set with its active/inactive partition, and (Switch mode only) a
// per-address-identifier map of inner TimeoutCaches.
//
// Every method must be called from the Directory's processing strand —
// the same strand its internal timeoutcache.Cache instances are bound
// to — matching spec.md §5's "endpoint directory... run[s] on the
// processing domain".
package directory

import (
	"time"

	"miniplex/internal/endpoint"
	"miniplex/internal/strand"
	"miniplex/internal/timeoutcache"
)

// Directory owns the three endpoint data structures from spec.md §3:
// the ActiveBranch cache, the PermaBranch set (split into its
// active/inactive partition), and the Switch-only AddrBranch caches.
type Directory struct {
	s       *strand.Strand
	timeout time.Duration
	trunk   endpoint.Endpoint
	hasTrunk bool

	active *timeoutcache.Cache[endpoint.Endpoint]

	perma    map[endpoint.Endpoint]struct{}
	inactive map[endpoint.Endpoint]struct{}

	addrBranches map[uint64]*timeoutcache.Cache[endpoint.Endpoint]
}

// New constructs a Directory. trunk is the zero Endpoint (hasTrunk=false)
// in Hub and Switch mode, since only Trunk/Prune configurations have
// one (spec.md §3: "Trunk endpoint... present iff mode ∈ {Trunk,
// Prune}"). perma is the configured set of permanent branches, all
// initially inactive until they first send.
func New(s *strand.Strand, timeout time.Duration, trunk endpoint.Endpoint, hasTrunk bool, perma []endpoint.Endpoint) *Directory {
	d := &Directory{
		s:            s,
		timeout:      timeout,
		trunk:        trunk,
		hasTrunk:     hasTrunk,
		perma:        make(map[endpoint.Endpoint]struct{}, len(perma)),
		inactive:     make(map[endpoint.Endpoint]struct{}, len(perma)),
		addrBranches: make(map[uint64]*timeoutcache.Cache[endpoint.Endpoint]),
	}
	d.active = timeoutcache.New(s, timeout, d.onActiveExpire)
	for _, p := range perma {
		d.perma[p] = struct{}{}
		d.inactive[p] = struct{}{}
	}
	return d
}

// onActiveExpire is the ActiveBranch cache's expiry callback: if the
// expired endpoint is a perma-branch, it moves back into
// InactivePermaBranches (spec.md §4.3 on_expiry).
func (d *Directory) onActiveExpire(ep endpoint.Endpoint) {
	if _, ok := d.perma[ep]; ok {
		d.inactive[ep] = struct{}{}
	}
}

// Observe implements spec.md §4.3 observe(sender): if sender is the
// trunk, do nothing and return the current ActiveBranch snapshot (Open
// Question (a): the final revision does not refresh ActiveBranch for
// the trunk's own sends). Otherwise add/refresh sender in ActiveBranch
// and, if it is a perma-branch, move it out of InactivePermaBranches.
func (d *Directory) Observe(sender endpoint.Endpoint) (branches []endpoint.Endpoint) {
	if d.hasTrunk && sender == d.trunk {
		return d.active.Keys()
	}
	d.active.Add(sender)
	delete(d.inactive, sender)
	return d.active.Keys()
}

// AddressBranches implements spec.md §4.3 address_branches(sender, addr,
// associate): lazily materializes the inner TimeoutCache for addr; if
// associate, adds/refreshes sender in it. Returns the inner cache's key
// sequence.
func (d *Directory) AddressBranches(sender endpoint.Endpoint, addr uint64, associate bool) []endpoint.Endpoint {
	c, ok := d.addrBranches[addr]
	if !ok {
		c = timeoutcache.New[endpoint.Endpoint](d.s, d.timeout, nil)
		d.addrBranches[addr] = c
	}
	if associate {
		c.Add(sender)
	}
	return c.Keys()
}

// ActiveBranches returns the current ActiveBranch key sequence without
// recording any activity, e.g. for Prune/Trunk dispatch that needs the
// snapshot but has already called Observe this step.
func (d *Directory) ActiveBranches() []endpoint.Endpoint {
	return d.active.Keys()
}

// PermaBranches returns every configured permanent branch.
func (d *Directory) PermaBranches() []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(d.perma))
	for ep := range d.perma {
		out = append(out, ep)
	}
	return out
}

// InactivePermaBranches returns the permanent branches not currently
// present in ActiveBranch.
func (d *Directory) InactivePermaBranches() []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(d.inactive))
	for ep := range d.inactive {
		out = append(out, ep)
	}
	return out
}

// Trunk returns the configured trunk endpoint and whether one exists.
func (d *Directory) Trunk() (endpoint.Endpoint, bool) {
	return d.trunk, d.hasTrunk
}
