package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlockedEndpoint marks a webhook target the server refuses to call.
var ErrBlockedEndpoint = errors.New("endpoint not allowed")

var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// Resolver looks up the addresses behind a hostname.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// EndpointPolicy decides which URLs outbound webhook requests may target.
// The zero value blocks loopback, private, link-local and unspecified
// addresses and resolves hostnames with net.DefaultResolver.
type EndpointPolicy struct {
	// AllowPrivate admits internal targets. Development and tests only.
	AllowPrivate bool
	Resolver     Resolver
}

// ValidateEndpointURL checks rawURL against the default policy.
func ValidateEndpointURL(ctx context.Context, rawURL string) error {
	return EndpointPolicy{}.Validate(ctx, rawURL)
}

// Validate checks that rawURL is an http(s) URL whose host, literal or
// resolved, is not an internal address.
func (p EndpointPolicy) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format", ErrBlockedEndpoint)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: URL scheme must be http or https", ErrBlockedEndpoint)
	}
	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("%w: URL must have a host", ErrBlockedEndpoint)
	}
	if u.User != nil {
		return fmt.Errorf("%w: URL must not carry credentials", ErrBlockedEndpoint)
	}
	if p.AllowPrivate {
		return nil
	}

	host := strings.TrimSuffix(u.Hostname(), ".")
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("%w: URL host %q is not allowed", ErrBlockedEndpoint, host)
		}
	}
	if strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: URL host %q is not allowed", ErrBlockedEndpoint, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w: cannot resolve URL host %s", ErrBlockedEndpoint, host)
	}
	for _, a := range addrs {
		if err := checkIP(a.IP); err != nil {
			return fmt.Errorf("URL host %q resolves to blocked address: %w", host, err)
		}
	}
	return nil
}

// Transport returns an HTTP transport whose dialer re-checks the peer
// address at connect time, closing the gap between validation and a DNS
// answer that changes afterwards. Proxies are disabled so the checked
// address is the one dialed.
func (p EndpointPolicy) Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if p.AllowPrivate {
		return t
	}
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBlockedEndpoint, err)
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("%w: unresolved dial address %s", ErrBlockedEndpoint, host)
			}
			return checkIP(ip)
		},
	}
	t.Proxy = nil
	t.DialContext = dialer.DialContext
	return t
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback addresses are not allowed", ErrBlockedEndpoint)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private addresses are not allowed", ErrBlockedEndpoint)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local addresses are not allowed", ErrBlockedEndpoint)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified addresses are not allowed", ErrBlockedEndpoint)
	case ip.IsMulticast():
		return fmt.Errorf("%w: multicast addresses are not allowed", ErrBlockedEndpoint)
	}
	return nil
}
