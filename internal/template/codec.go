package template

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
)

// MarshalInputs encodes inputs as a JSON object tagged with its kind,
// e.g. {"kind":"monthly-savings","amount":"150"}.
func MarshalInputs(in Inputs) ([]byte, error) {
	if in == nil {
		return nil, eris.New("template: marshal nil inputs")
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrapf(err, "template: marshal %s inputs", in.Kind())
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, eris.Wrapf(err, "template: re-read %s inputs", in.Kind())
	}
	kind, _ := json.Marshal(in.Kind())
	fields["kind"] = kind
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, eris.Wrap(err, "template: marshal tagged inputs")
	}
	return out, nil
}

// UnmarshalInputs decodes a tagged inputs object. Unknown kinds and fields
// that do not belong to the tagged kind are rejected.
func UnmarshalInputs(data []byte) (Inputs, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "template: decode inputs")
	}
	rawKind, ok := fields["kind"]
	if !ok {
		return nil, eris.New("template: inputs missing kind")
	}
	var kind Kind
	if err := json.Unmarshal(rawKind, &kind); err != nil {
		return nil, eris.Wrap(err, "template: decode inputs kind")
	}
	delete(fields, "kind")
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, eris.Wrap(err, "template: re-encode inputs")
	}

	switch kind {
	case KindMonthlySavings:
		return decodeAs[MonthlySavings](body)
	case KindBreakEven:
		return decodeAs[BreakEven](body)
	case KindBreakEvenDate:
		return decodeAs[BreakEvenDate](body)
	case KindPMIRemoval:
		return decodeAs[PMIRemoval](body)
	case KindRateImprovement:
		return decodeAs[RateImprovement](body)
	case KindInterestSavings:
		return decodeAs[InterestSavings](body)
	default:
		return nil, eris.Errorf("template: unknown inputs kind %q", kind)
	}
}

func decodeAs[T Inputs](body []byte) (Inputs, error) {
	var in T
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, eris.Wrapf(err, "template: decode %s inputs", in.Kind())
	}
	return in, nil
}

// Summary renders inputs as a short phrase for reports and notifications.
func Summary(in Inputs) string {
	switch v := in.(type) {
	case MonthlySavings:
		return fmt.Sprintf("saves at least $%s per month", v.Amount.StringFixed(2))
	case BreakEven:
		return fmt.Sprintf("breaks even within %d months", v.Months)
	case BreakEvenDate:
		return fmt.Sprintf("breaks even by %s", v.ByDate.Format("2006-01-02"))
	case PMIRemoval:
		return fmt.Sprintf("loan-to-value at or below %s%%", v.LTV.String())
	case RateImprovement:
		return fmt.Sprintf("rate drops by at least %s points", v.Improvement.String())
	case InterestSavings:
		return fmt.Sprintf("saves at least $%s in lifetime interest", v.LifetimeSavings.StringFixed(2))
	case nil:
		return "no inputs"
	default:
		return fmt.Sprintf("%T", in)
	}
}
