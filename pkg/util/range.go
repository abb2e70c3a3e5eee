package util

import (
	"fmt"
	"sort"
	"strconv"
)

// ExpandWordRange expands the space-separated "10 20 to 25 30" notation
// emitted by VRP-style devices (e.g. "vlan batch 10 20 to 25").
func ExpandWordRange(fields []string) ([]int, error) {
	var result []int
	for i := 0; i < len(fields); i++ {
		start, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", fields[i])
		}
		if i+2 < len(fields) && fields[i+1] == "to" {
			end, err := strconv.Atoi(fields[i+2])
			if err != nil {
				return nil, fmt.Errorf("invalid end value: %s", fields[i+2])
			}
			if start > end {
				return nil, fmt.Errorf("start value %d greater than end value %d", start, end)
			}
			for v := start; v <= end; v++ {
				result = append(result, v)
			}
			i += 2
			continue
		}
		result = append(result, start)
	}
	sort.Ints(result)
	return dedupInts(result), nil
}

// ValidateVLANID checks the 802.1Q usable range.
func ValidateVLANID(id int) error {
	if id < 1 || id > 4094 {
		return fmt.Errorf("VLAN ID must be between 1 and 4094, got %d", id)
	}
	return nil
}

func dedupInts(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
