package generator

import (
	"strings"

	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/runconfig"
	"github.com/netpush-network/netpush/pkg/util"
)

// Revert returns the unframed lines that remove what in would add on top of
// the configuration captured in backup. Objects that did not exist in the
// backup are deleted whole; lines added under existing objects are negated.
// Anything the backup already had is left for the replay in Restore.
func Revert(in *intent.Intent, d dialect.Dialect, backup *runconfig.Config) ([]string, error) {
	p, err := dialect.Lookup(d)
	if err != nil {
		return nil, err
	}
	objs, err := plan(in, p)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, o := range objs {
		existed := backup.Has(o.header)
		if !existed && !o.persistent {
			lines = append(lines, negate(p, o.header))
			continue
		}
		var undo []string
		for _, l := range o.shown {
			if !existed || !backup.HasChild(o.header, l) {
				undo = append(undo, negate(p, l))
			}
		}
		if len(undo) == 0 {
			continue
		}
		lines = append(lines, o.header)
		lines = append(lines, undo...)
		lines = append(lines, p.LeaveSection)
	}
	return lines, nil
}

// Restore frames a replay of every significant line of backupText.
func Restore(d dialect.Dialect, backupText string) (Sequence, error) {
	p, err := dialect.Lookup(d)
	if err != nil {
		return nil, err
	}
	seq := Sequence{p.EnterConfig}
	seq = append(seq, replay(p, runconfig.Parse(p, backupText))...)
	seq = append(seq, p.ExitConfig)
	return Sequence(util.Compact(seq)), nil
}

// Rollback combines Revert and Restore into one framed sequence. When the
// intent cannot be planned the replay alone is returned.
func Rollback(in *intent.Intent, d dialect.Dialect, backupText string) (Sequence, error) {
	p, err := dialect.Lookup(d)
	if err != nil {
		return nil, err
	}
	cfg := runconfig.Parse(p, backupText)

	seq := Sequence{p.EnterConfig}
	if undo, err := Revert(in, d, cfg); err == nil {
		seq = append(seq, undo...)
	}
	seq = append(seq, replay(p, cfg)...)
	seq = append(seq, p.ExitConfig)
	return Sequence(util.Compact(seq)), nil
}

func replay(p *dialect.Profile, cfg *runconfig.Config) []string {
	var lines []string
	for _, s := range cfg.Sections {
		lines = append(lines, s.Header)
		lines = append(lines, s.Lines...)
		if len(s.Lines) > 0 {
			lines = append(lines, p.LeaveSection)
		}
	}
	return lines
}

// emulatedUndoForm trims arguments the emulated CLI does not accept after
// "undo" for a handful of single-valued settings.
func emulatedUndoForm(line string) string {
	for _, prefix := range []string{"description", "port default vlan", "port link-type"} {
		if strings.HasPrefix(line, prefix+" ") {
			return prefix
		}
	}
	return line
}
