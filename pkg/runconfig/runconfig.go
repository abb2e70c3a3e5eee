// Package runconfig parses the text a switch prints for its running
// configuration into top-level sections, so a check can ask whether a line
// exists at a given place instead of searching the raw text.
package runconfig

import (
	"strconv"
	"strings"

	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/util"
)

// Section is one top-level configuration line and the indented lines under it.
type Section struct {
	Header string
	Lines  []string
}

// Config is a parsed running configuration. Lines are stored normalized.
type Config struct {
	Sections []*Section
	index    map[string]*Section
}

// Parse splits text into sections using the dialect's comment and banner
// rules. Text is expected to be cleaned of the command echo and the trailing
// prompt (see Clean).
func Parse(p *dialect.Profile, text string) *Config {
	c := &Config{index: make(map[string]*Section)}
	var cur *Section
	skipping := false
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, " \t\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if !p.Replayable(raw) {
			// Comment separators and skipped banners close the section.
			if !indented(raw) {
				cur = nil
				skipping = strings.TrimSpace(raw) != p.Comment
			}
			continue
		}
		if indented(raw) && skipping {
			continue
		}
		skipping = false
		line := Normalize(raw)
		if indented(raw) && cur != nil {
			cur.Lines = append(cur.Lines, line)
			continue
		}
		if s, ok := c.index[line]; ok {
			cur = s
			continue
		}
		cur = &Section{Header: line}
		c.Sections = append(c.Sections, cur)
		c.index[line] = cur
	}
	return c
}

// Normalize collapses runs of whitespace and drops the step number devices
// insert into ACL rules ("rule 5 permit ..." becomes "rule permit ...").
func Normalize(line string) string {
	fields := strings.Fields(line)
	if len(fields) > 2 && fields[0] == "rule" {
		if _, err := strconv.Atoi(fields[1]); err == nil {
			fields = append(fields[:1], fields[2:]...)
		}
	}
	return strings.Join(fields, " ")
}

func indented(raw string) bool {
	return raw != "" && (raw[0] == ' ' || raw[0] == '\t')
}

// Section returns the section whose header equals header.
func (c *Config) Section(header string) (*Section, bool) {
	s, ok := c.index[Normalize(header)]
	return s, ok
}

// Has reports whether header exists as a top-level line. "vlan N" also
// matches a "vlan batch" range that covers N.
func (c *Config) Has(header string) bool {
	if _, ok := c.Section(header); ok {
		return true
	}
	if id, ok := vlanID(header); ok {
		return c.inVLANBatch(id)
	}
	return false
}

// HasChild reports whether line appears directly under header.
func (c *Config) HasChild(header, line string) bool {
	s, ok := c.Section(header)
	if !ok {
		return false
	}
	want := Normalize(line)
	for _, l := range s.Lines {
		if l == want {
			return true
		}
	}
	return false
}

// Len returns the number of significant lines.
func (c *Config) Len() int {
	n := 0
	for _, s := range c.Sections {
		n += 1 + len(s.Lines)
	}
	return n
}

// Missing lists lines of c that are absent from other, rendered as
// "header" or "header > child".
func (c *Config) Missing(other *Config) []string {
	var missing []string
	for _, s := range c.Sections {
		if !other.Has(s.Header) {
			missing = append(missing, s.Header)
			continue
		}
		for _, l := range s.Lines {
			if !other.HasChild(s.Header, l) {
				missing = append(missing, s.Header+" > "+l)
			}
		}
	}
	return missing
}

func vlanID(line string) (int, bool) {
	f := strings.Fields(line)
	if len(f) != 2 || f[0] != "vlan" {
		return 0, false
	}
	id, err := strconv.Atoi(f[1])
	return id, err == nil
}

func (c *Config) inVLANBatch(id int) bool {
	for _, s := range c.Sections {
		f := strings.Fields(s.Header)
		if len(f) < 3 || f[0] != "vlan" || f[1] != "batch" {
			continue
		}
		ids, err := util.ExpandWordRange(f[2:])
		if err != nil {
			continue
		}
		for _, v := range ids {
			if v == id {
				return true
			}
		}
	}
	return false
}

// Clean strips the echoed command, paging artefacts and the trailing prompt
// from raw show output.
func Clean(p *dialect.Profile, raw, command string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var out []string
	for i, l := range lines {
		l = strings.TrimRight(strings.ReplaceAll(l, "\r", ""), " \t")
		if i == 0 && command != "" && strings.HasSuffix(strings.TrimSpace(l), command) {
			continue
		}
		if strings.Contains(l, "---- More ----") || strings.Contains(l, "--More--") {
			continue
		}
		out = append(out, l)
	}
	for len(out) > 0 {
		last := out[len(out)-1]
		if strings.TrimSpace(last) == "" || (!indented(last) && p.IsPrompt(last) && !strings.Contains(strings.TrimSpace(last), " ")) {
			out = out[:len(out)-1]
			continue
		}
		break
	}
	return strings.Join(out, "\n")
}
