package generator

import (
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/runconfig"
)

// Expectation is one line that must (or, with Absent, must not) appear in
// the running configuration after a successful apply. Section is the
// enclosing top-level line, empty for top-level lines.
type Expectation struct {
	Section string
	Line    string
	Absent  bool
}

func (e Expectation) String() string {
	s := e.Line
	if e.Section != "" {
		s = e.Section + " > " + e.Line
	}
	if e.Absent {
		return "no " + s
	}
	return s
}

// Met reports whether c satisfies e. Lines are matched whole, within their
// section, never as substrings of the raw text.
func (e Expectation) Met(c *runconfig.Config) bool {
	var present bool
	if e.Section == "" {
		present = c.Has(e.Line)
	} else {
		present = c.HasChild(e.Section, e.Line)
	}
	return present != e.Absent
}

// Expectations lists what the running configuration must show once in has
// been applied to a device speaking d.
func Expectations(in *intent.Intent, d dialect.Dialect) ([]Expectation, error) {
	p, err := dialect.Lookup(d)
	if err != nil {
		return nil, err
	}
	objs, err := plan(in, p)
	if err != nil {
		return nil, err
	}
	var exps []Expectation
	for _, o := range objs {
		exps = append(exps, Expectation{Line: o.header})
		for _, l := range o.shown {
			exps = append(exps, Expectation{Section: o.header, Line: l})
		}
		for _, l := range o.absent {
			exps = append(exps, Expectation{Section: o.header, Line: l, Absent: true})
		}
	}
	return exps, nil
}

// Verify returns the expectations c does not meet.
func Verify(c *runconfig.Config, exps []Expectation) []string {
	var missing []string
	for _, e := range exps {
		if !e.Met(c) {
			missing = append(missing, e.String())
		}
	}
	return missing
}
