package marzban

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mybrohigh/Xpert/internal/model"
)

// SyncResult summarizes one push-through run.
type SyncResult struct {
	Status       string   `json:"status"`
	TotalSynced  int      `json:"total_synced"`
	TotalConfigs int      `json:"total_configs"`
	Errors       []string `json:"errors,omitempty"`
}

// CleanupResult summarizes an explicit orphan-host removal.
type CleanupResult struct {
	Status       string   `json:"status"`
	RemovedCount int      `json:"removed_count"`
	Errors       []string `json:"errors,omitempty"`
}

// Sync ensures a host row exists for every active config, grouped by
// (protocol, port). Add-only: existing rows are never touched, and a
// failure on one row is collected without aborting the batch.
func (c *Client) Sync(ctx context.Context, configs []model.AggregatedConfig) (SyncResult, error) {
	if c == nil {
		return SyncResult{Status: "disabled"}, nil
	}

	active := make([]model.AggregatedConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.IsActive && cfg.Server != "" {
			active = append(active, cfg)
		}
	}
	if len(active) == 0 {
		return SyncResult{Status: "no_configs"}, nil
	}

	inbounds, err := c.Inbounds(ctx)
	if err != nil {
		return SyncResult{Status: "error"}, err
	}
	hosts, err := c.Hosts(ctx)
	if err != nil {
		return SyncResult{Status: "error"}, err
	}

	// Group by resolved tag so each inbound's existing addresses are
	// checked once.
	groups := make(map[string][]model.AggregatedConfig)
	for _, cfg := range active {
		tag := c.resolveTag(inbounds, cfg.Protocol, cfg.Port)
		groups[tag] = append(groups[tag], cfg)
	}
	tags := make([]string, 0, len(groups))
	for tag := range groups {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	result := SyncResult{Status: "success", TotalConfigs: len(active)}
	for _, tag := range tags {
		existing := make(map[string]struct{}, len(hosts[tag]))
		for _, h := range hosts[tag] {
			existing[h.Address] = struct{}{}
		}
		for _, cfg := range groups[tag] {
			if _, ok := existing[cfg.Server]; ok {
				continue
			}
			if err := c.AddHost(ctx, tag, hostFor(cfg)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("add host %s to %s: %v", cfg.Server, tag, err))
				continue
			}
			existing[cfg.Server] = struct{}{}
			result.TotalSynced++
		}
	}
	return result, nil
}

// CleanupInactive removes every host whose address is not in the active
// set. Destructive, so it only runs when explicitly invoked.
func (c *Client) CleanupInactive(ctx context.Context, active []model.AggregatedConfig) (CleanupResult, error) {
	if c == nil {
		return CleanupResult{Status: "disabled"}, nil
	}

	keep := make(map[string]struct{}, len(active))
	for _, cfg := range active {
		keep[cfg.Server] = struct{}{}
	}

	hosts, err := c.Hosts(ctx)
	if err != nil {
		return CleanupResult{Status: "error"}, err
	}

	removed := 0
	next := make(map[string][]Host, len(hosts))
	for tag, rows := range hosts {
		kept := make([]Host, 0, len(rows))
		for _, h := range rows {
			if _, ok := keep[h.Address]; ok {
				kept = append(kept, h)
			} else {
				removed++
			}
		}
		next[tag] = kept
	}
	if removed == 0 {
		return CleanupResult{Status: "success"}, nil
	}

	if err := c.ReplaceHosts(ctx, next); err != nil {
		return CleanupResult{Status: "error"}, err
	}
	return CleanupResult{Status: "success", RemovedCount: removed}, nil
}

// resolveTag picks the inbound for a (protocol, port) group: the natural
// {protocol}-in-{port} tag when such an inbound exists, then the
// configured fallback, then the first existing tag for the protocol,
// then the natural tag as a new grouping.
func (c *Client) resolveTag(inbounds map[string][]Inbound, protocol string, port int) string {
	protocol = strings.ToLower(protocol)
	natural := fmt.Sprintf("%s-in-%d", protocol, port)

	all := make(map[string]struct{})
	for _, list := range inbounds {
		for _, in := range list {
			all[in.Tag] = struct{}{}
		}
	}
	if _, ok := all[natural]; ok {
		return natural
	}
	if c.fallbackTag != "" {
		if _, ok := all[c.fallbackTag]; ok {
			return c.fallbackTag
		}
	}
	if list := inbounds[protocol]; len(list) > 0 {
		return list[0].Tag
	}
	return natural
}

// hostFor maps a config to an inventory row. TLS with a chrome
// fingerprint is the default profile; shadowsocks carries no TLS layer.
func hostFor(cfg model.AggregatedConfig) Host {
	h := Host{
		Remark:      fmt.Sprintf("Xpert-%s-%s", strings.ToUpper(cfg.Protocol), truncate(cfg.Server, 15)),
		Address:     cfg.Server,
		Port:        cfg.Port,
		SNI:         cfg.Server,
		Host:        cfg.Server,
		Security:    "tls",
		ALPN:        "h2,http/1.1",
		Fingerprint: "chrome",
	}
	if strings.EqualFold(cfg.Protocol, model.ProtocolShadowsocks) {
		h.Security = "none"
		h.SNI = ""
		h.ALPN = "none"
		h.Fingerprint = ""
	}
	return h
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
