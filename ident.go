// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlreq

import "sync/atomic"

// IDAllocator issues process-wide unique request identities. Identities are
// cache keys only; they carry no meaning beyond uniqueness for the process
// lifetime. Next must never return the same value twice and must never
// return zero.
type IDAllocator interface {
	Next() uint64
}

// atomicAllocator is the default allocator: a single atomic counter starting
// at 1.
type atomicAllocator struct {
	n uint64
}

func (a *atomicAllocator) Next() uint64 {
	return atomic.AddUint64(&a.n, 1)
}

// requestIDs allocates identities for non-oneshot requests. It is a package
// variable rather than a hidden static inside the constructor so tests can
// swap it out.
var requestIDs IDAllocator = &atomicAllocator{}
