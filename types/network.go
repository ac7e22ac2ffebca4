package types

import (
	"fmt"
	"strings"
)

// Network is a blockchain network identifier in CAIP-2 format:
// namespace:reference (e.g. "eip155:8453" for Base mainnet).
// The reference may be the wildcard "*" when used as a registry pattern.
type Network string

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks whether this network matches a pattern. Wildcard references
// match any network in the same namespace, in either direction:
// "eip155:8453" matches "eip155:*" and "eip155:*" matches "eip155:8453".
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}
