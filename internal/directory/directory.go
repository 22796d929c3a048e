// Package directory resolves tracker IMEIs to registered vehicles.
//
// Lookups go through a TTL cache so steady record traffic does not hit
// the database once per frame. Unregistered devices resolve to a
// fallback profile and keep reporting; registration can catch up later.
package directory

import (
	"context"
	"sync"
	"time"

	"avl_gateway/internal/storage"
)

// DefaultTTL is how long a cached vehicle stays valid.
const DefaultTTL = 5 * time.Minute

// Lookup is the slice of the vehicle store the directory needs.
type Lookup interface {
	VehicleByIMEI(ctx context.Context, imei string) (*storage.Vehicle, error)
}

// Vehicle is the resolved profile for a device. Registered reports
// whether the registry knows the IMEI; unregistered traffic is still
// transmitted but not written to the audit log.
type Vehicle struct {
	ID         int64
	IMEI       string
	RegNo      string
	Registered bool
}

// Directory caches vehicle lookups by IMEI.
type Directory struct {
	store Lookup
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	cache     map[string]entry
	lastSweep time.Time
}

type entry struct {
	vehicle Vehicle
	at      time.Time
}

// New creates a directory over the given store. A non-positive ttl uses
// DefaultTTL.
func New(store Lookup, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Directory{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]entry),
	}
}

// Resolve returns the vehicle profile for an IMEI. Unknown devices get a
// fallback profile built from the IMEI tail and are not cached, so a
// registration that lands later takes effect on the next frame. A store
// error also returns the fallback profile alongside the error; the
// caller keeps transmitting either way.
func (d *Directory) Resolve(ctx context.Context, imei string) (Vehicle, error) {
	now := d.now()

	d.mu.Lock()
	if now.Sub(d.lastSweep) > d.ttl {
		d.sweepLocked(now)
		d.lastSweep = now
	}
	if e, ok := d.cache[imei]; ok && now.Sub(e.at) < d.ttl {
		v := e.vehicle
		d.mu.Unlock()
		return v, nil
	}
	d.mu.Unlock()

	found, err := d.store.VehicleByIMEI(ctx, imei)
	if err != nil {
		return fallback(imei), err
	}
	if found == nil {
		return fallback(imei), nil
	}

	v := Vehicle{ID: found.ID, IMEI: found.IMEI, RegNo: found.RegNo, Registered: true}
	d.mu.Lock()
	d.cache[imei] = entry{vehicle: v, at: now}
	d.mu.Unlock()
	return v, nil
}

// Forget drops a cached entry so the next Resolve hits the store.
func (d *Directory) Forget(imei string) {
	d.mu.Lock()
	delete(d.cache, imei)
	d.mu.Unlock()
}

// CacheSize returns the number of cached profiles.
func (d *Directory) CacheSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

func (d *Directory) sweepLocked(now time.Time) {
	for imei, e := range d.cache {
		if now.Sub(e.at) > d.ttl {
			delete(d.cache, imei)
		}
	}
}

// fallback builds the profile for an unregistered device. The last six
// digits of the IMEI stand in for the registration number.
func fallback(imei string) Vehicle {
	tail := imei
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	return Vehicle{IMEI: imei, RegNo: tail}
}
