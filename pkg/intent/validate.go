package intent

import (
	"net"
	"strings"

	"github.com/netpush-network/netpush/pkg/util"
)

const maxVLANNameLen = 32

// Prepare returns a normalized copy of in that passed Validate. The caller's
// value is never modified.
func (in *Intent) Prepare() (*Intent, error) {
	if in == nil {
		return nil, util.NewValidationError("intent is required")
	}
	out := in.normalized()
	if err := out.check(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks that exactly the fields required by Kind are present and
// well formed. Problems are accumulated into one *util.ValidationError.
func (in *Intent) Validate() error {
	if in == nil {
		return util.NewValidationError("intent is required")
	}
	return in.normalized().check()
}

func (in *Intent) check() error {
	v := &util.ValidationBuilder{}

	switch in.Kind {
	case KindVLAN:
		checkVLAN(in, v)
	case KindInterface:
		checkInterface(in, v)
	case KindACL:
		checkACL(in, v)
	case KindRoute:
		checkRoute(in, v)
	case "":
		v.AddErrorf("kind is required")
	default:
		v.AddErrorf("unknown kind %q", in.Kind)
	}

	if in.Kind != "" {
		for _, f := range in.foreignFields() {
			v.AddErrorf("field %s is not allowed for kind %s", f, in.Kind)
		}
	}
	return v.Build()
}

// foreignFields lists populated fields that belong to a different kind.
func (in *Intent) foreignFields() []string {
	owned := map[Kind][]struct {
		name string
		set  bool
	}{
		KindVLAN: {
			{"vlan_id", in.VLANID != 0},
			{"name", in.Name != ""},
			{"interfaces", len(in.Interfaces) > 0},
		},
		KindInterface: {
			{"interface", in.Interface != ""},
			{"ip", in.IP != ""},
			{"vlan", in.VLAN != 0},
			{"description", in.Description != ""},
			{"admin_state", in.AdminState != ""},
		},
		KindACL: {
			{"acl_id", in.ACLID != ""},
			{"acl_type", in.ACLType != ""},
			{"rules", len(in.Rules) > 0},
		},
		KindRoute: {
			{"network", in.Network != ""},
			{"mask", in.Mask != ""},
			{"next_hop", in.NextHop != ""},
		},
	}
	var foreign []string
	for _, k := range Kinds() {
		if k == in.Kind {
			continue
		}
		for _, f := range owned[k] {
			if f.set {
				foreign = append(foreign, f.name)
			}
		}
	}
	return foreign
}

func checkText(v *util.ValidationBuilder, field, value string) {
	v.Add(!util.HasControlChars(value), field+" must be a single line")
}

func checkVLAN(in *Intent, v *util.ValidationBuilder) {
	if err := util.ValidateVLANID(in.VLANID); err != nil {
		v.AddErrorf("vlan_id: %v", err)
	}
	v.Add(in.Name != "", "name is required for vlan intents")
	v.Add(!strings.ContainsAny(in.Name, " \t"), "name must not contain whitespace")
	v.Add(len(in.Name) <= maxVLANNameLen, "name must be at most 32 characters")
	checkText(v, "name", in.Name)

	seen := make(map[string]bool)
	for _, name := range in.Interfaces {
		if strings.TrimSpace(name) == "" {
			v.AddErrorf("interfaces must not contain empty names")
			continue
		}
		checkText(v, "interfaces", name)
		if seen[name] {
			v.AddErrorf("interface %s listed twice", name)
		}
		seen[name] = true
	}
}

func checkInterface(in *Intent, v *util.ValidationBuilder) {
	v.Add(strings.TrimSpace(in.Interface) != "", "interface is required for interface intents")
	checkText(v, "interface", in.Interface)
	checkText(v, "description", in.Description)

	switch in.AdminState {
	case AdminUp, AdminDown:
	case "":
		v.AddErrorf("admin_state is required for interface intents")
	default:
		v.AddErrorf("admin_state must be %q or %q, got %q", AdminUp, AdminDown, in.AdminState)
	}

	if in.IP != "" {
		hasMask := strings.Contains(in.IP, "/") || len(strings.Fields(in.IP)) == 2
		if _, n, err := util.SplitAddress(in.IP); err != nil {
			v.AddErrorf("ip: %v", err)
		} else if !hasMask || n == 0 {
			v.AddErrorf("ip must carry a mask (CIDR or \"addr mask\"), got %q", in.IP)
		}
	}
	if in.VLAN != 0 {
		if err := util.ValidateVLANID(in.VLAN); err != nil {
			v.AddErrorf("vlan: %v", err)
		}
	}
}

var validProtocols = map[string]bool{"ip": true, "tcp": true, "udp": true, "icmp": true}

func checkACL(in *Intent, v *util.ValidationBuilder) {
	v.Add(in.ACLID != "", "acl_id is required for acl intents")
	v.Add(!strings.ContainsAny(in.ACLID, " \t"), "acl_id must not contain whitespace")
	checkText(v, "acl_id", in.ACLID)

	switch in.ACLType {
	case ACLStandard, ACLExtended:
	case "":
		v.AddErrorf("acl_type is required for acl intents")
	default:
		v.AddErrorf("acl_type must be %q or %q, got %q", ACLStandard, ACLExtended, in.ACLType)
	}
	v.Add(len(in.Rules) > 0, "acl intents need at least one rule")

	for i, r := range in.Rules {
		n := i + 1
		if r.Action != ActionPermit && r.Action != ActionDeny {
			v.AddErrorf("rule %d: action must be permit or deny, got %q", n, r.Action)
		}
		if r.Source == "" {
			v.AddErrorf("rule %d: source is required", n)
		} else if !validEndpoint(r.Source) {
			v.AddErrorf("rule %d: invalid source %q", n, r.Source)
		}

		if in.ACLType == ACLStandard {
			if r.Protocol != "" || r.Destination != "" || r.Port != 0 {
				v.AddErrorf("rule %d: standard ACLs match on source only", n)
			}
			continue
		}

		if !validProtocols[r.Protocol] {
			v.AddErrorf("rule %d: protocol must be one of ip, tcp, udp, icmp, got %q", n, r.Protocol)
		}
		if r.Destination == "" {
			v.AddErrorf("rule %d: destination is required for extended ACLs", n)
		} else if !validEndpoint(r.Destination) {
			v.AddErrorf("rule %d: invalid destination %q", n, r.Destination)
		}
		if r.Port != 0 {
			if r.Protocol != "tcp" && r.Protocol != "udp" {
				v.AddErrorf("rule %d: port requires tcp or udp", n)
			}
			if r.Port < 1 || r.Port > 65535 {
				v.AddErrorf("rule %d: port must be between 1 and 65535, got %d", n, r.Port)
			}
		}
	}
}

func validEndpoint(s string) bool {
	if s == "any" {
		return true
	}
	_, _, err := util.SplitAddress(s)
	return err == nil
}

func checkRoute(in *Intent, v *util.ValidationBuilder) {
	v.Add(util.IsValidIPv4(in.Network), "network must be an IPv4 address")
	v.Add(util.IsValidIPv4(in.NextHop), "next_hop must be an IPv4 address")

	n, err := util.ParseMask(in.Mask)
	if err != nil {
		v.AddErrorf("mask: %v", err)
		return
	}
	if ip := net.ParseIP(in.Network).To4(); ip != nil {
		if !ip.Mask(net.CIDRMask(n, 32)).Equal(ip) {
			v.AddErrorf("network %s has host bits set for mask %s", in.Network, in.Mask)
		}
	}
}
