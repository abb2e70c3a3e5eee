package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseIPWithMask parses an IP address with CIDR notation
// Returns the IP, mask length, and any error
func ParseIPWithMask(cidr string) (net.IP, int, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid CIDR notation: %s", cidr)
	}
	ones, _ := ipNet.Mask.Size()
	return ip, ones, nil
}

// IsValidIPv4 checks if a string is a valid IPv4 address
func IsValidIPv4(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	return ip != nil && ip.To4() != nil
}

// ParseMask accepts a prefix length ("24", "/24") or a dotted netmask
// ("255.255.255.0") and returns the prefix length.
func ParseMask(mask string) (int, error) {
	mask = strings.TrimPrefix(strings.TrimSpace(mask), "/")
	if mask == "" {
		return 0, fmt.Errorf("empty mask")
	}
	if n, err := strconv.Atoi(mask); err == nil {
		if n < 0 || n > 32 {
			return 0, fmt.Errorf("mask length must be between 0 and 32, got %d", n)
		}
		return n, nil
	}
	ip := net.ParseIP(mask).To4()
	if ip == nil {
		return 0, fmt.Errorf("invalid mask: %s", mask)
	}
	ones, bits := net.IPv4Mask(ip[0], ip[1], ip[2], ip[3]).Size()
	if bits == 0 {
		return 0, fmt.Errorf("non-contiguous mask: %s", mask)
	}
	return ones, nil
}

// DottedMask renders a prefix length as a dotted netmask.
func DottedMask(maskLen int) string {
	m := net.CIDRMask(maskLen, 32)
	return net.IPv4(m[0], m[1], m[2], m[3]).String()
}

// WildcardMask renders a prefix length as an inverse (wildcard) mask, the
// form both CLI dialects use in ACL rules.
func WildcardMask(maskLen int) string {
	m := net.CIDRMask(maskLen, 32)
	return net.IPv4(^m[0], ^m[1], ^m[2], ^m[3]).String()
}

// SplitAddress parses "a.b.c.d/len" or "a.b.c.d m.m.m.m" into the address and
// prefix length. A bare address is treated as a host (/32).
func SplitAddress(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	if fields := strings.Fields(s); len(fields) == 2 {
		if !IsValidIPv4(fields[0]) {
			return "", 0, fmt.Errorf("invalid IPv4 address: %s", fields[0])
		}
		n, err := ParseMask(fields[1])
		if err != nil {
			return "", 0, err
		}
		return fields[0], n, nil
	}
	if strings.Contains(s, "/") {
		ip, n, err := ParseIPWithMask(s)
		if err != nil || ip.To4() == nil {
			return "", 0, fmt.Errorf("invalid IPv4 CIDR: %s", s)
		}
		return ip.String(), n, nil
	}
	if !IsValidIPv4(s) {
		return "", 0, fmt.Errorf("invalid IPv4 address: %s", s)
	}
	return s, 32, nil
}
