package alert

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/refi-monitor/internal/template"
)

type instanceAlias Instance

type instanceJSON struct {
	*instanceAlias
	Inputs json.RawMessage `json:"inputs"`
}

// MarshalJSON writes the instance with its inputs as a tagged object.
func (a Instance) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if a.Inputs != nil {
		b, err := template.MarshalInputs(a.Inputs)
		if err != nil {
			return nil, err
		}
		raw = b
	} else {
		raw = json.RawMessage("null")
	}
	alias := instanceAlias(a)
	return json.Marshal(instanceJSON{instanceAlias: &alias, Inputs: raw})
}

// UnmarshalJSON reads an instance written by MarshalJSON. The stored
// template kind is kept as-is even if it disagrees with the inputs; the
// engine reports such records instead of silently repairing them.
func (a *Instance) UnmarshalJSON(data []byte) error {
	aux := instanceJSON{instanceAlias: (*instanceAlias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return eris.Wrap(err, "alert: decode instance")
	}
	if len(aux.Inputs) == 0 || string(aux.Inputs) == "null" {
		a.Inputs = nil
		return nil
	}
	in, err := template.UnmarshalInputs(aux.Inputs)
	if err != nil {
		return err
	}
	a.Inputs = in
	return nil
}
