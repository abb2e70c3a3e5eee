// Package intent defines the structured configuration change a deployment
// applies, and validates it before any device is touched.
package intent

import (
	"fmt"
	"strings"
)

// Kind discriminates an Intent.
type Kind string

const (
	KindVLAN      Kind = "vlan"
	KindInterface Kind = "interface"
	KindACL       Kind = "acl"
	KindRoute     Kind = "route"
)

// Kinds lists the supported intent kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindVLAN, KindInterface, KindACL, KindRoute}
}

// Admin states for interface intents.
const (
	AdminUp   = "up"
	AdminDown = "down"
)

// ACL types. "basic"/"advanced" are accepted as aliases on input.
const (
	ACLStandard = "standard"
	ACLExtended = "extended"
)

// ACL rule actions.
const (
	ActionPermit = "permit"
	ActionDeny   = "deny"
)

// Intent is one discrete configuration change. Which fields are meaningful
// depends on Kind; Validate rejects fields that belong to a different kind.
type Intent struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// vlan
	VLANID     int      `json:"vlan_id,omitempty" yaml:"vlan_id,omitempty"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	Interfaces []string `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`

	// interface
	Interface   string `json:"interface,omitempty" yaml:"interface,omitempty"`
	IP          string `json:"ip,omitempty" yaml:"ip,omitempty"`
	VLAN        int    `json:"vlan,omitempty" yaml:"vlan,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	AdminState  string `json:"admin_state,omitempty" yaml:"admin_state,omitempty"`

	// acl
	ACLID   string    `json:"acl_id,omitempty" yaml:"acl_id,omitempty"`
	ACLType string    `json:"acl_type,omitempty" yaml:"acl_type,omitempty"`
	Rules   []ACLRule `json:"rules,omitempty" yaml:"rules,omitempty"`

	// route
	Network string `json:"network,omitempty" yaml:"network,omitempty"`
	Mask    string `json:"mask,omitempty" yaml:"mask,omitempty"`
	NextHop string `json:"next_hop,omitempty" yaml:"next_hop,omitempty"`
}

// ACLRule is one ordered permit/deny entry. Source and Destination take
// "any", a host address, or a CIDR prefix.
type ACLRule struct {
	Action      string `json:"action" yaml:"action"`
	Protocol    string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
	Port        int    `json:"port,omitempty" yaml:"port,omitempty"`
}

// Summary renders a short human-readable description for logs and audit.
func (in *Intent) Summary() string {
	switch in.Kind {
	case KindVLAN:
		return fmt.Sprintf("vlan %d (%s)", in.VLANID, in.Name)
	case KindInterface:
		return fmt.Sprintf("interface %s %s", in.Interface, in.AdminState)
	case KindACL:
		return fmt.Sprintf("acl %s %s (%d rules)", in.ACLType, in.ACLID, len(in.Rules))
	case KindRoute:
		return fmt.Sprintf("route %s/%s via %s", in.Network, in.Mask, in.NextHop)
	}
	return string(in.Kind)
}

// IsNumberedACL reports whether the ACL id is a number rather than a name.
func (in *Intent) IsNumberedACL() bool {
	if in.ACLID == "" {
		return false
	}
	return strings.Trim(in.ACLID, "0123456789") == ""
}

// normalized returns a copy with aliases folded onto canonical values.
func (in *Intent) normalized() *Intent {
	out := *in
	out.Interfaces = append([]string(nil), in.Interfaces...)
	out.Rules = append([]ACLRule(nil), in.Rules...)

	out.Kind = Kind(strings.ToLower(strings.TrimSpace(string(in.Kind))))
	out.AdminState = strings.ToLower(strings.TrimSpace(in.AdminState))
	out.Interface = strings.TrimSpace(in.Interface)
	out.Description = strings.TrimSpace(in.Description)
	switch strings.ToLower(strings.TrimSpace(in.ACLType)) {
	case "basic", ACLStandard:
		out.ACLType = ACLStandard
	case "advanced", ACLExtended:
		out.ACLType = ACLExtended
	}
	for i := range out.Rules {
		r := &out.Rules[i]
		r.Action = strings.ToLower(strings.TrimSpace(r.Action))
		r.Protocol = strings.ToLower(strings.TrimSpace(r.Protocol))
		r.Source = strings.TrimSpace(r.Source)
		r.Destination = strings.TrimSpace(r.Destination)
	}
	return &out
}
