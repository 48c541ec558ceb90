package dns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestLookupMXCaches(t *testing.T) {
	calls := 0
	r := NewCachingResolver(time.Minute)
	r.lookupMX = func(ctx context.Context, name string) ([]*net.MX, error) {
		calls++
		return []*net.MX{{Host: "mail.example.org.", Pref: 10}}, nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		records, err := r.LookupMX(ctx, "example.org")
		if err != nil {
			t.Fatalf("LookupMX() error = %v", err)
		}
		if len(records) != 1 || records[0].Host != "mail.example.org." {
			t.Fatalf("LookupMX() = %v", records)
		}
	}
	if calls != 1 {
		t.Errorf("underlying lookups = %d, want 1", calls)
	}
}

func TestLookupMXCacheCaseInsensitive(t *testing.T) {
	calls := 0
	r := NewCachingResolver(time.Minute)
	r.lookupMX = func(ctx context.Context, name string) ([]*net.MX, error) {
		calls++
		return []*net.MX{{Host: "mx.example.org.", Pref: 5}}, nil
	}

	ctx := context.Background()
	r.LookupMX(ctx, "Example.ORG")
	r.LookupMX(ctx, "example.org")

	if calls != 1 {
		t.Errorf("underlying lookups = %d, want 1", calls)
	}
}

func TestLookupMXExpiry(t *testing.T) {
	calls := 0
	current := time.Now()
	r := NewCachingResolver(time.Minute)
	r.now = func() time.Time { return current }
	r.lookupMX = func(ctx context.Context, name string) ([]*net.MX, error) {
		calls++
		return nil, nil
	}

	ctx := context.Background()
	r.LookupMX(ctx, "example.org")
	current = current.Add(61 * time.Second)
	r.LookupMX(ctx, "example.org")

	if calls != 2 {
		t.Errorf("underlying lookups = %d, want 2 after expiry", calls)
	}
}

func TestLookupErrorsNotCached(t *testing.T) {
	calls := 0
	r := NewCachingResolver(time.Minute)
	r.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("temporary failure")
		}
		return []string{"v=spf1 -all"}, nil
	}

	ctx := context.Background()
	if _, err := r.LookupTXT(ctx, "example.org"); err == nil {
		t.Fatal("LookupTXT() expected error on first call")
	}
	records, err := r.LookupTXT(ctx, "example.org")
	if err != nil {
		t.Fatalf("LookupTXT() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("LookupTXT() = %v", records)
	}
	if calls != 2 {
		t.Errorf("underlying lookups = %d, want 2", calls)
	}
}

func TestLookupTXTCaches(t *testing.T) {
	calls := 0
	r := NewCachingResolver(time.Minute)
	r.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		calls++
		return []string{"v=DMARC1; p=none"}, nil
	}

	ctx := context.Background()
	r.LookupTXT(ctx, "_dmarc.example.org")
	r.LookupTXT(ctx, "_dmarc.example.org")

	if calls != 1 {
		t.Errorf("underlying lookups = %d, want 1", calls)
	}
}

func TestNewCachingResolverDefaultTTL(t *testing.T) {
	r := NewCachingResolver(0)
	if r.ttl != time.Minute {
		t.Errorf("default ttl = %v, want 1m", r.ttl)
	}
}
