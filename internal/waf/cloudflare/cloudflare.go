package cloudflare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-waf-manager/internal/waf"
)

const (
	DefaultBaseURL = "https://api.cloudflare.com/client/v4"
	DefaultTimeout = 30 * time.Second

	customPhase = "http_request_firewall_custom"
)

func init() {
	waf.Register("cloudflare", func(log logr.Logger, opts waf.Options) (waf.Backend, error) {
		return New(log, opts)
	})
}

// Backend implements waf.Backend against the Cloudflare rulesets API.
type Backend struct {
	baseURL string
	client  *Client
	log     logr.Logger
}

// New creates a Cloudflare backend. apikey is required, as is at least one
// of domain or zone.
func New(log logr.Logger, opts waf.Options) (*Backend, error) {
	if opts.APIKey == "" {
		return nil, &waf.ConfigurationError{Field: "apikey", Reason: "API key not found in settings"}
	}
	if opts.Domain == "" && opts.ZoneID == "" {
		return nil, &waf.ConfigurationError{Field: "domain", Reason: "domain and zone are not found in settings"}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client, err := NewClient(log, &http.Client{Timeout: timeout}, opts.APIKey)
	if err != nil {
		return nil, err
	}

	return &Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}, nil
}

func (b *Backend) url(path string) string {
	return b.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (b *Backend) entrypointURL(zoneID string) string {
	return b.url(fmt.Sprintf("zones/%s/rulesets/phases/%s/entrypoint", url.PathEscape(zoneID), customPhase))
}

type zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolveZone lists zones filtered by name and takes the first one.
func (b *Backend) ResolveZone(ctx context.Context, domain string) (string, bool, error) {
	q := url.Values{}
	q.Set("name", domain)
	obj, err := b.client.Request(ctx, http.MethodGet, b.url("zones")+"?"+q.Encode(), nil, nil)
	if err != nil {
		return "", false, err
	}

	var zones []zone
	if _, err := obj.Result(&zones); err != nil {
		return "", false, err
	}
	if len(zones) == 0 || zones[0].ID == "" {
		return "", false, nil
	}
	return zones[0].ID, true, nil
}

type ruleset struct {
	ID    string         `json:"id"`
	Rules []waf.Snapshot `json:"rules"`
}

// LocateRule fetches the zone's custom firewall entrypoint ruleset and scans
// it for a rule with the same description. A 404 on the entrypoint means the
// zone has no custom ruleset yet.
func (b *Backend) LocateRule(ctx context.Context, zoneID string, rule waf.Rule) (waf.Match, bool, error) {
	obj, err := b.client.Request(ctx, http.MethodGet, b.entrypointURL(zoneID), nil, nil)
	if err != nil {
		var appErr *waf.ApplicationError
		if errors.As(err, &appErr) && appErr.Status == http.StatusNotFound {
			b.log.V(1).Info("zone has no custom ruleset", "zone", zoneID)
			return waf.Match{}, false, nil
		}
		return waf.Match{}, false, err
	}

	var rs ruleset
	ok, err := obj.Result(&rs)
	if err != nil || !ok {
		return waf.Match{}, false, err
	}

	for _, remote := range rs.Rules {
		var desc string
		if raw, ok := remote["description"]; !ok || json.Unmarshal(raw, &desc) != nil {
			continue
		}
		if desc != rule.Description {
			continue
		}
		var id string
		if err := json.Unmarshal(remote["id"], &id); err != nil {
			return waf.Match{}, false, fmt.Errorf("cloudflare: rule %q has no usable id: %w", desc, err)
		}
		return waf.Match{RulesetID: rs.ID, RuleID: id, Snapshot: remote}, true, nil
	}
	return waf.Match{}, false, nil
}

// CreateRule writes the rule to the custom ruleset entrypoint.
func (b *Backend) CreateRule(ctx context.Context, zoneID string, rule waf.Rule) error {
	payload := struct {
		Rules []waf.Rule `json:"rules"`
	}{Rules: []waf.Rule{rule}}

	if _, err := b.client.Request(ctx, http.MethodPut, b.entrypointURL(zoneID), nil, payload); err != nil {
		return err
	}
	b.log.Info("rule created", "description", rule.Description, "zone", zoneID)
	return nil
}

// UpdateRule patches the matched rule with the declared fields merged over
// its remote snapshot.
func (b *Backend) UpdateRule(ctx context.Context, zoneID string, match waf.Match, rule waf.Rule) error {
	payload, err := waf.MergeRule(match.Snapshot, rule)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("zones/%s/rulesets/%s/rules/%s",
		url.PathEscape(zoneID), url.PathEscape(match.RulesetID), url.PathEscape(match.RuleID))
	if _, err := b.client.Request(ctx, http.MethodPatch, b.url(path), nil, payload); err != nil {
		return err
	}
	b.log.Info("rule updated", "description", rule.Description, "rule", match.RuleID)
	return nil
}
