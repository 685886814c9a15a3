package netutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExtractHost normalizes an operator-supplied target into a bare host.
// Accepts bare hosts, host:port pairs, bracketed IPv6, and full URLs.
//
// Examples:
//
//	"1.2.3.4:443"              -> "1.2.3.4"
//	"https://cdn.example.com/" -> "cdn.example.com"
//	"[::1]:80"                 -> "::1"
func ExtractHost(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}

	if strings.Contains(target, "://") || strings.HasPrefix(target, "//") {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			target = u.Host
		}
	}

	host := target
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return strings.TrimSpace(host)
}

// RegistrableDomain reduces a host to its eTLD+1 using the Public Suffix
// List. IP addresses, localhost, and bare TLDs come back unchanged.
func RegistrableDomain(host string) string {
	host = ExtractHost(host)
	if host == "" {
		return ""
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}
