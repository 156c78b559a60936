package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateEndpointURL checks that an operator-supplied endpoint, such as
// the alert webhook target, is safe for server-side requests. Private,
// loopback, link-local, and unspecified addresses are rejected so a
// misconfigured URL cannot be pointed at the internal network. Both
// the literal host and its DNS-resolved addresses are checked.
func ValidateEndpointURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https")
	}

	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	host := u.Hostname()

	// Cloud metadata services and localhost by name
	blocked := []string{"localhost", "metadata.google.internal", "metadata.google"}
	for _, b := range blocked {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, ipStr := range ips {
		if resolved := net.ParseIP(ipStr); resolved != nil {
			if err := checkIP(resolved); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %v", host, err)
			}
		}
	}

	return nil
}

func checkIP(ip net.IP) error {
	if ip.IsLoopback() {
		return fmt.Errorf("loopback addresses are not allowed")
	}
	if ip.IsPrivate() {
		return fmt.Errorf("private addresses are not allowed")
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return fmt.Errorf("link-local addresses are not allowed")
	}
	if ip.IsUnspecified() {
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
