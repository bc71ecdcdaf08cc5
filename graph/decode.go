package graph

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeState copies state into out, a pointer to a struct or map. Struct
// fields are matched by their json tag, and numeric values loaded from a
// checkpoint (float64) convert to the field's type.
func DecodeState(state State, out any) error {
	if err := decode(state, out); err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}
	return nil
}

func decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
