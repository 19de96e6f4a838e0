package bridge

import "sync"

// routeKey is the Index A lookup key: an HTTP method plus a route template
// (major path parameters preserved, minor ones elided), per spec.md §3/§6.
type routeKey struct {
	method string
	route  string
}

// BucketRegistry owns the two indices described in spec.md §3: Index A maps
// (method, route template) to a Bucket, Index B maps a server-assigned
// bucket identifier to the same Bucket once discovered. The two indices are
// protected by independent locks so an Index A lookup never blocks on an
// Index B write, and vice versa; a Bucket's own lock is always acquired
// after whichever registry lock produced it (spec.md §5 lock ordering).
type BucketRegistry struct {
	muA     sync.RWMutex
	byRoute map[routeKey]*Bucket

	muB    sync.RWMutex
	byID   map[string]*Bucket
	clock  Clock
}

// NewBucketRegistry constructs an empty registry.
func NewBucketRegistry(clock Clock) *BucketRegistry {
	return &BucketRegistry{
		byRoute: make(map[routeKey]*Bucket),
		byID:    make(map[string]*Bucket),
		clock:   clock,
	}
}

// GetOrCreateByRoute returns the current non-duplicate Bucket for
// (method, route), creating one lazily on first admission for that route.
func (r *BucketRegistry) GetOrCreateByRoute(method, route string) *Bucket {
	key := routeKey{method: method, route: route}

	r.muA.RLock()
	b := r.byRoute[key]
	r.muA.RUnlock()

	if b != nil {
		return b
	}

	r.muA.Lock()
	defer r.muA.Unlock()

	if b := r.byRoute[key]; b != nil {
		return b
	}

	b = newBucket(r.clock)
	r.byRoute[key] = b

	return b
}

// ReplaceRoute installs b as the bucket for (method, route), used when the
// server reveals that route shares an identifier with an existing bucket.
// After this call, the superseded bucket is never again reachable from
// Index A for this route.
func (r *BucketRegistry) ReplaceRoute(method, route string, b *Bucket) {
	r.muA.Lock()
	r.byRoute[routeKey{method: method, route: route}] = b
	r.muA.Unlock()
}

// GetByID returns the bucket registered under a server-assigned identifier,
// or nil if none has been discovered yet.
func (r *BucketRegistry) GetByID(id string) *Bucket {
	r.muB.RLock()
	defer r.muB.RUnlock()

	return r.byID[id]
}

// SetByID registers b under a server-assigned identifier. Only called the
// first time a given identifier is observed (spec.md §4.4 step 1).
func (r *BucketRegistry) SetByID(id string, b *Bucket) {
	r.muB.Lock()
	r.byID[id] = b
	r.muB.Unlock()
}
