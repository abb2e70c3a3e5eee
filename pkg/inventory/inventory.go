// Package inventory loads the YAML list of switches a deployment can target.
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
)

// Defaults fill fields a device leaves empty.
type Defaults struct {
	Dialect     dialect.Dialect    `yaml:"dialect,omitempty"`
	Port        int                `yaml:"port,omitempty"`
	Credentials device.Credentials `yaml:"credentials,omitempty"`
	Timeout     time.Duration      `yaml:"timeout,omitempty"`
}

// Device is one inventory entry.
type Device struct {
	Name          string   `yaml:"name"`
	Groups        []string `yaml:"groups,omitempty"`
	device.Target `yaml:",inline"`
}

// Inventory is a parsed inventory file.
type Inventory struct {
	Defaults Defaults `yaml:"defaults,omitempty"`
	Devices  []Device `yaml:"devices"`
}

// Load reads and validates an inventory file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inv, nil
}

// Parse decodes an inventory, applies defaults to every device and checks
// that names and target keys are unique.
func Parse(data []byte) (*Inventory, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var inv Inventory
	if err := dec.Decode(&inv); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("inventory is empty")
		}
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}

	names := make(map[string]bool)
	keys := make(map[string]bool)
	for i := range inv.Devices {
		d := &inv.Devices[i]
		inv.Defaults.apply(&d.Target)
		if d.Name == "" {
			d.Name = d.Address
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("device %q: %w", d.Name, err)
		}
		if names[d.Name] {
			return nil, fmt.Errorf("duplicate device name %q", d.Name)
		}
		if keys[d.Key()] {
			return nil, fmt.Errorf("device %q: duplicate target %s", d.Name, d.Key())
		}
		names[d.Name] = true
		keys[d.Key()] = true
	}
	return &inv, nil
}

func (def Defaults) apply(t *device.Target) {
	if t.Dialect == "" {
		t.Dialect = def.Dialect
	}
	if t.Port == 0 {
		t.Port = def.Port
	}
	if t.Timeout == 0 {
		t.Timeout = def.Timeout
	}
	FillCredentials(t, def.Credentials)
}

// FillCredentials copies any credential field t leaves empty from c.
func FillCredentials(t *device.Target, c device.Credentials) {
	if t.Credentials.Username == "" {
		t.Credentials.Username = c.Username
	}
	if t.Credentials.Password == "" {
		t.Credentials.Password = c.Password
	}
	if t.Credentials.Secret == "" {
		t.Credentials.Secret = c.Secret
	}
}

// Lookup finds a device by name or target key.
func (inv *Inventory) Lookup(ref string) (Device, bool) {
	for _, d := range inv.Devices {
		if d.Name == ref || d.Key() == ref || d.Address == ref {
			return d, true
		}
	}
	return Device{}, false
}

// Select returns the targets named by refs plus every device in group.
// Both empty selects the whole inventory. The result keeps inventory order.
func (inv *Inventory) Select(refs []string, group string) ([]device.Target, error) {
	if len(refs) == 0 && group == "" {
		out := make([]device.Target, len(inv.Devices))
		for i, d := range inv.Devices {
			out[i] = d.Target
		}
		return out, nil
	}

	picked := make(map[string]bool)
	for _, ref := range refs {
		d, ok := inv.Lookup(ref)
		if !ok {
			return nil, fmt.Errorf("device %q not found in inventory", ref)
		}
		picked[d.Name] = true
	}
	if group != "" {
		found := false
		for _, d := range inv.Devices {
			for _, g := range d.Groups {
				if g == group {
					picked[d.Name] = true
					found = true
				}
			}
		}
		if !found {
			return nil, fmt.Errorf("group %q has no devices", group)
		}
	}

	var out []device.Target
	for _, d := range inv.Devices {
		if picked[d.Name] {
			out = append(out, d.Target)
		}
	}
	return out, nil
}

// Groups lists every group name, sorted.
func (inv *Inventory) Groups() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range inv.Devices {
		for _, g := range d.Groups {
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	sort.Strings(out)
	return out
}
