// Package generator turns a validated intent into the literal CLI lines a
// device of a given dialect expects. Every function here is pure: no I/O,
// no shared state, same input same output.
package generator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/util"
)

// Sequence is an ordered list of command lines, framed by the dialect's
// enter and exit configuration commands.
type Sequence []string

// Body returns the lines between the framing commands.
func (s Sequence) Body() []string {
	if len(s) < 2 {
		return nil
	}
	return s[1 : len(s)-1]
}

// object is one configuration object an intent touches: the top-level line
// that creates or enters it, and the body lines sent under it.
type object struct {
	header string
	lines  []string

	// shown are body lines the device prints back in its running
	// configuration; absent must not be printed.
	shown  []string
	absent []string

	// persistent objects (physical interfaces) exist before and after any
	// change, so reverting them never removes the header.
	persistent bool
}

// Generate renders in for dialect d.
func Generate(in *intent.Intent, d dialect.Dialect) (Sequence, error) {
	p, err := dialect.Lookup(d)
	if err != nil {
		return nil, err
	}
	objs, err := plan(in, p)
	if err != nil {
		return nil, err
	}

	seq := Sequence{p.EnterConfig}
	for _, o := range objs {
		seq = append(seq, o.header)
		seq = append(seq, o.lines...)
		if len(objs) > 1 && len(o.lines) > 0 {
			seq = append(seq, p.LeaveSection)
		}
	}
	seq = append(seq, p.ExitConfig)
	return Sequence(util.Compact(seq)), nil
}

func plan(in *intent.Intent, p *dialect.Profile) ([]object, error) {
	in, err := in.Prepare()
	if err != nil {
		return nil, err
	}
	switch in.Kind {
	case intent.KindVLAN:
		return planVLAN(in, p), nil
	case intent.KindInterface:
		return planInterface(in, p)
	case intent.KindACL:
		return planACL(in, p)
	case intent.KindRoute:
		return planRoute(in, p)
	}
	return nil, fmt.Errorf("%w: unsupported kind %q", util.ErrInvalidIntent, in.Kind)
}

func planVLAN(in *intent.Intent, p *dialect.Profile) []object {
	nameLine := "name " + in.Name
	if p.Dialect == dialect.Emulated {
		nameLine = "description " + in.Name
	}
	objs := []object{{
		header: "vlan " + strconv.Itoa(in.VLANID),
		lines:  []string{nameLine},
		shown:  []string{nameLine},
	}}
	for _, ifname := range in.Interfaces {
		access := accessLines(p, in.VLANID)
		objs = append(objs, object{
			header:     "interface " + ifname,
			lines:      access,
			shown:      access,
			persistent: true,
		})
	}
	return objs
}

// accessLines binds an interface to vlan as an untagged access port.
func accessLines(p *dialect.Profile, vlan int) []string {
	id := strconv.Itoa(vlan)
	if p.Dialect == dialect.Emulated {
		return []string{"port link-type access", "port default vlan " + id}
	}
	return []string{"switchport mode access", "switchport access vlan " + id}
}

func planInterface(in *intent.Intent, p *dialect.Profile) ([]object, error) {
	o := object{header: "interface " + in.Interface, persistent: true}

	if desc := strings.TrimSpace(in.Description); desc != "" {
		line := "description " + desc
		o.lines = append(o.lines, line)
		o.shown = append(o.shown, line)
	}
	if in.IP != "" {
		addr, n, err := util.SplitAddress(in.IP)
		if err != nil {
			return nil, fmt.Errorf("%w: ip: %v", util.ErrInvalidIntent, err)
		}
		line := fmt.Sprintf("ip address %s %s", addr, util.DottedMask(n))
		o.lines = append(o.lines, line)
		o.shown = append(o.shown, line)
	}
	if in.VLAN != 0 {
		access := accessLines(p, in.VLAN)
		o.lines = append(o.lines, access...)
		o.shown = append(o.shown, access...)
	}

	switch in.AdminState {
	case intent.AdminDown:
		o.lines = append(o.lines, "shutdown")
		o.shown = append(o.shown, "shutdown")
	case intent.AdminUp:
		o.lines = append(o.lines, negate(p, "shutdown"))
		o.absent = append(o.absent, "shutdown")
	}
	return []object{o}, nil
}

func planRoute(in *intent.Intent, p *dialect.Profile) ([]object, error) {
	n, err := util.ParseMask(in.Mask)
	if err != nil {
		return nil, fmt.Errorf("%w: mask: %v", util.ErrInvalidIntent, err)
	}
	verb := "ip route"
	if p.Dialect == dialect.Emulated {
		verb = "ip route-static"
	}
	return []object{{
		header: fmt.Sprintf("%s %s %s %s", verb, in.Network, util.DottedMask(n), in.NextHop),
	}}, nil
}

// negate renders the line that removes line in dialect p.
func negate(p *dialect.Profile, line string) string {
	if p.Dialect == dialect.Emulated {
		return "undo " + emulatedUndoForm(line)
	}
	return "no " + line
}
