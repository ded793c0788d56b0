package module

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/swarmer/core"
)

// DecodeState unmarshals a module payload into dst after checking that every
// required top-level field is present. Failures wrap core.ErrInvalidModuleState.
func DecodeState(kind string, state json.RawMessage, dst any, required ...string) error {
	if len(state) == 0 {
		return fmt.Errorf("%w: %s: empty payload", core.ErrInvalidModuleState, kind)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(state, &fields); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrInvalidModuleState, kind, err)
	}
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("%w: %s: missing field %q", core.ErrInvalidModuleState, kind, name)
		}
	}

	if err := json.Unmarshal(state, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrInvalidModuleState, kind, err)
	}
	return nil
}
