// Package dialect holds the command-syntax variants a switch may speak.
//
// A dialect is a tag, not a type hierarchy: every difference between
// vendors lives in the Profile table below, and the generator switches on
// the tag where the body grammar differs. Adding a vendor means adding a
// constant and a profile entry.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect identifies the CLI grammar a device expects.
type Dialect string

const (
	// Standard is the enterprise CLI (configure terminal / end, show running-config).
	Standard Dialect = "standard"
	// Emulated is the simulator CLI (system-view / return, display current-configuration).
	Emulated Dialect = "emulated"
)

// Transport names the remote-shell binding used to reach a device.
type Transport string

const (
	TransportSSH    Transport = "ssh"
	TransportTelnet Transport = "telnet"
)

// Profile is the static per-dialect lookup table used for login, framing,
// and output interpretation.
type Profile struct {
	Dialect     Dialect
	Transport   Transport
	DefaultPort int

	// Login prompts, matched as suffixes of the trimmed output.
	UsernamePrompts []string
	PasswordPrompts []string

	// PromptSuffixes end every CLI prompt; UserPromptSuffix marks an
	// unprivileged prompt that needs EnableCommand.
	PromptSuffixes   []string
	UserPromptSuffix string
	EnableCommand    string

	DisablePaging string
	EnterConfig   string
	ExitConfig    string
	LeaveSection  string
	ShowRunning   string

	// SaveConfig copies the running configuration to startup. When the
	// device asks for confirmation, SaveConfirm is typed after it.
	SaveConfig  string
	SaveConfirm string

	// ErrorMarkers prefix lines the device prints when it rejects a command.
	ErrorMarkers []string

	// Comment is the section separator in running-config output; SkipPrefixes
	// are banner lines that must not be replayed during rollback.
	Comment      string
	SkipPrefixes []string
	SkipExact    []string
}

var profiles = map[Dialect]*Profile{
	Standard: {
		Dialect:          Standard,
		Transport:        TransportSSH,
		DefaultPort:      22,
		UsernamePrompts:  []string{"Username:", "login:"},
		PasswordPrompts:  []string{"Password:"},
		PromptSuffixes:   []string{"#", ">"},
		UserPromptSuffix: ">",
		EnableCommand:    "enable",
		DisablePaging:    "terminal length 0",
		EnterConfig:      "configure terminal",
		ExitConfig:       "end",
		LeaveSection:     "exit",
		ShowRunning:      "show running-config",
		SaveConfig:       "write memory",
		ErrorMarkers:     []string{"% Invalid", "% Incomplete", "% Ambiguous", "% Unknown", "% Unrecognized", "% Bad"},
		Comment:          "!",
		SkipPrefixes:     []string{"Building configuration", "Current configuration", "version "},
		SkipExact:        []string{"end"},
	},
	Emulated: {
		Dialect:         Emulated,
		Transport:       TransportTelnet,
		DefaultPort:     2000,
		UsernamePrompts: []string{"Username:"},
		PasswordPrompts: []string{"Password:"},
		PromptSuffixes:  []string{">", "]"},
		DisablePaging:   "screen-length 0 temporary",
		EnterConfig:     "system-view",
		ExitConfig:      "return",
		LeaveSection:    "quit",
		ShowRunning:     "display current-configuration",
		SaveConfig:      "save",
		SaveConfirm:     "y",
		ErrorMarkers:    []string{"Error:", "Unrecognized command", "Incomplete command", "Wrong parameter", "Too many parameters"},
		Comment:         "#",
		SkipPrefixes:    []string{"!Software Version", "sysname", "user-interface", "authentication-mode", "user privilege"},
		SkipExact:       []string{"return"},
	},
}

// Lookup returns the profile for d.
func Lookup(d Dialect) (*Profile, error) {
	p, ok := profiles[d]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q", d)
	}
	return p, nil
}

// Parse normalizes a dialect name from configuration files. Vendor aliases
// used by operators map onto the two grammars.
func Parse(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "cisco", "cisco_ios", "ios":
		return Standard, nil
	case "emulated", "ensp", "huawei", "vrp":
		return Emulated, nil
	}
	return "", fmt.Errorf("unknown dialect %q", s)
}

// All lists the supported dialects in a stable order.
func All() []Dialect {
	return []Dialect{Standard, Emulated}
}

// IsPrompt reports whether the last line of out looks like a CLI prompt.
func (p *Profile) IsPrompt(out string) bool {
	last := lastLine(out)
	if last == "" {
		return false
	}
	for _, s := range p.PromptSuffixes {
		if strings.HasSuffix(last, s) {
			return true
		}
	}
	return false
}

// IsUserPrompt reports whether the device is waiting at an unprivileged prompt.
func (p *Profile) IsUserPrompt(out string) bool {
	if p.UserPromptSuffix == "" {
		return false
	}
	return strings.HasSuffix(lastLine(out), p.UserPromptSuffix)
}

// Rejected returns the first output line that carries an error marker.
func (p *Profile) Rejected(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		for _, m := range p.ErrorMarkers {
			if strings.HasPrefix(line, m) {
				return line, true
			}
		}
	}
	return "", false
}

// Replayable reports whether a running-config line should be sent back to
// the device when restoring a backup.
func (p *Profile) Replayable(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" || t == p.Comment || strings.HasPrefix(t, p.Comment+" ") {
		return false
	}
	for _, s := range p.SkipPrefixes {
		if strings.HasPrefix(t, s) {
			return false
		}
	}
	for _, s := range p.SkipExact {
		if t == s {
			return false
		}
	}
	return true
}

func lastLine(out string) string {
	out = strings.TrimRight(out, " \r\n")
	if i := strings.LastIndexAny(out, "\r\n"); i >= 0 {
		out = out[i+1:]
	}
	return strings.TrimSpace(out)
}
