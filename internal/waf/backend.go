package waf

import (
	"context"
	"time"
)

// Backend is the capability set the Reconciler needs from a firewall
// provider.
type Backend interface {
	// ResolveZone maps a domain to the provider's zone identifier. found is
	// false, with a nil error, when the provider knows no such zone.
	ResolveZone(ctx context.Context, domain string) (zoneID string, found bool, err error)
	// LocateRule looks for a remote rule whose description equals
	// rule.Description. A failure to determine presence is returned as an
	// error, never as found=false.
	LocateRule(ctx context.Context, zoneID string, rule Rule) (Match, bool, error)
	CreateRule(ctx context.Context, zoneID string, rule Rule) error
	UpdateRule(ctx context.Context, zoneID string, match Match, rule Rule) error
}

// Options are the provider-agnostic settings handed to a backend Factory.
type Options struct {
	APIKey  string
	Domain  string
	ZoneID  string
	BaseURL string
	Timeout time.Duration
}
