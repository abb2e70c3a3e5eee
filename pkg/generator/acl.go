package generator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/util"
)

type numRange struct{ lo, hi int }

func inRanges(n int, ranges []numRange) bool {
	for _, r := range ranges {
		if n >= r.lo && n <= r.hi {
			return true
		}
	}
	return false
}

func formatRanges(ranges []numRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = fmt.Sprintf("%d-%d", r.lo, r.hi)
	}
	return strings.Join(parts, ", ")
}

// Numbered ACL ranges per dialect and type.
var aclRanges = map[dialect.Dialect]map[string][]numRange{
	dialect.Standard: {
		intent.ACLStandard: {{1, 99}, {1300, 1999}},
		intent.ACLExtended: {{100, 199}, {2000, 2699}},
	},
	dialect.Emulated: {
		intent.ACLStandard: {{2000, 2999}},
		intent.ACLExtended: {{3000, 3999}},
	},
}

func planACL(in *intent.Intent, p *dialect.Profile) ([]object, error) {
	if in.IsNumberedACL() {
		n, err := strconv.Atoi(in.ACLID)
		if err != nil {
			return nil, fmt.Errorf("%w: acl_id %q: %v", util.ErrInvalidIntent, in.ACLID, err)
		}
		ranges := aclRanges[p.Dialect][in.ACLType]
		if !inRanges(n, ranges) {
			return nil, fmt.Errorf("%w: %s acl %d is outside %s for the %s dialect",
				util.ErrInvalidIntent, in.ACLType, n, formatRanges(ranges), p.Dialect)
		}
	}

	o := object{header: aclHeader(in, p)}
	for _, r := range in.Rules {
		line := ruleLine(in.ACLType, r, p)
		o.lines = append(o.lines, line)
		o.shown = append(o.shown, line)
	}
	return []object{o}, nil
}

func aclHeader(in *intent.Intent, p *dialect.Profile) string {
	if p.Dialect == dialect.Emulated {
		if in.IsNumberedACL() {
			return "acl number " + in.ACLID
		}
		kind := "basic"
		if in.ACLType == intent.ACLExtended {
			kind = "advance"
		}
		return fmt.Sprintf("acl name %s %s", in.ACLID, kind)
	}
	return fmt.Sprintf("ip access-list %s %s", in.ACLType, in.ACLID)
}

func ruleLine(aclType string, r intent.ACLRule, p *dialect.Profile) string {
	if p.Dialect == dialect.Emulated {
		parts := []string{"rule", r.Action}
		if aclType == intent.ACLExtended {
			parts = append(parts, r.Protocol)
		}
		parts = append(parts, "source", emulatedEndpoint(r.Source))
		if aclType == intent.ACLExtended {
			parts = append(parts, "destination", emulatedEndpoint(r.Destination))
			if r.Port != 0 {
				parts = append(parts, "destination-port", "eq", strconv.Itoa(r.Port))
			}
		}
		return strings.Join(parts, " ")
	}

	parts := []string{r.Action}
	if aclType == intent.ACLExtended {
		parts = append(parts, r.Protocol)
	}
	parts = append(parts, standardEndpoint(r.Source))
	if aclType == intent.ACLExtended {
		parts = append(parts, standardEndpoint(r.Destination))
		if r.Port != 0 {
			parts = append(parts, "eq", strconv.Itoa(r.Port))
		}
	}
	return strings.Join(parts, " ")
}

// standardEndpoint renders "any", "host A" or "A WILDCARD".
func standardEndpoint(s string) string {
	if s == "any" {
		return s
	}
	addr, n, err := util.SplitAddress(s)
	if err != nil {
		return s
	}
	if n == 32 {
		return "host " + addr
	}
	return addr + " " + util.WildcardMask(n)
}

// emulatedEndpoint renders "any" or "A WILDCARD"; hosts use wildcard 0.
func emulatedEndpoint(s string) string {
	if s == "any" {
		return s
	}
	addr, n, err := util.SplitAddress(s)
	if err != nil {
		return s
	}
	if n == 32 {
		return addr + " 0"
	}
	return addr + " " + util.WildcardMask(n)
}
