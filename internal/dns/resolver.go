// Package dns provides a caching resolver for the deliverability
// checks. The settings page re-runs every check on each submit; the
// cache absorbs rapid re-checks while staying short enough to follow
// DNS edits during setup.
package dns

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

// CachingResolver wraps the system resolver with a TTL cache for MX and
// TXT lookups. Only successful answers are cached; errors always retry.
type CachingResolver struct {
	ttl time.Duration

	mu  sync.Mutex
	mx  map[string]mxEntry
	txt map[string]txtEntry

	lookupMX  func(ctx context.Context, name string) ([]*net.MX, error)
	lookupTXT func(ctx context.Context, name string) ([]string, error)
	now       func() time.Time
}

type mxEntry struct {
	records   []*net.MX
	expiresAt time.Time
}

type txtEntry struct {
	records   []string
	expiresAt time.Time
}

// NewCachingResolver creates a resolver caching answers for ttl.
func NewCachingResolver(ttl time.Duration) *CachingResolver {
	if ttl == 0 {
		ttl = time.Minute
	}
	return &CachingResolver{
		ttl:       ttl,
		mx:        make(map[string]mxEntry),
		txt:       make(map[string]txtEntry),
		lookupMX:  net.DefaultResolver.LookupMX,
		lookupTXT: net.DefaultResolver.LookupTXT,
		now:       time.Now,
	}
}

// LookupMX returns the MX records for name, from cache when fresh.
func (r *CachingResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	key := strings.ToLower(name)

	r.mu.Lock()
	entry, ok := r.mx[key]
	r.mu.Unlock()
	if ok && r.now().Before(entry.expiresAt) {
		return entry.records, nil
	}

	records, err := r.lookupMX(ctx, name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.mx[key] = mxEntry{records: records, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return records, nil
}

// LookupTXT returns the TXT records for name, from cache when fresh.
func (r *CachingResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	key := strings.ToLower(name)

	r.mu.Lock()
	entry, ok := r.txt[key]
	r.mu.Unlock()
	if ok && r.now().Before(entry.expiresAt) {
		return entry.records, nil
	}

	records, err := r.lookupTXT(ctx, name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.txt[key] = txtEntry{records: records, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return records, nil
}
