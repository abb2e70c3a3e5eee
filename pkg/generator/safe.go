package generator

import (
	"fmt"
	"strings"

	"github.com/netpush-network/netpush/pkg/util"
)

var destructiveVerbs = map[string]bool{
	"delete": true,
	"erase":  true,
	"format": true,
	"reload": true,
	"reboot": true,
}

// CheckSafe rejects a sequence that contains a destructive command or a line
// carrying control characters.
func CheckSafe(seq Sequence) error {
	for _, line := range seq {
		if util.HasControlChars(line) {
			return fmt.Errorf("%w: control characters in %q", util.ErrUnsafeCommand, line)
		}
		f := strings.Fields(strings.ToLower(line))
		if len(f) == 0 {
			return fmt.Errorf("%w: empty command", util.ErrUnsafeCommand)
		}
		if destructiveVerbs[f[0]] || (f[0] == "write" && len(f) > 1 && f[1] == "erase") {
			return fmt.Errorf("%w: %q", util.ErrUnsafeCommand, line)
		}
	}
	return nil
}
