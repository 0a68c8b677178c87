package dhcpmodel

import (
	"strings"

	"github.com/miekg/dns"
)

// Returns the canonical form of a hostname: lower case, with the trailing
// dot stripped. Lease hostnames are canonicalized at write time so that
// lookups and DNS update state do not depend on the case the client sent.
func CanonicalHostname(hostname string) string {
	if hostname == "" {
		return ""
	}
	return strings.TrimSuffix(dns.CanonicalName(hostname), ".")
}
