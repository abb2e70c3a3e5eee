package intent

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/netpush-network/netpush/pkg/util"
)

// Parse decodes an intent from YAML or JSON. Unknown fields are rejected so
// a typo never silently drops part of a change.
func Parse(data []byte) (*Intent, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var in Intent
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, util.NewValidationError("intent document is empty")
		}
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidIntent, err)
	}
	return in.Prepare()
}

// LoadFile reads and validates an intent file.
func LoadFile(path string) (*Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading intent file: %w", err)
	}
	in, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}
