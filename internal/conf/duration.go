package conf

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/RainStream/rainstream-server/internal/conf/jsonwrapper"
)

// Duration is a duration. It differs from the standard duration in that
// it is unmarshaled/marshaled from/to a string.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var in string
	if err := jsonwrapper.Unmarshal(b, &in); err != nil {
		return err
	}

	du, err := time.ParseDuration(in)
	if err != nil {
		return fmt.Errorf("invalid duration: '%s'", in)
	}
	*d = Duration(du)

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *Duration) UnmarshalEnv(_ string, v string) error {
	return d.UnmarshalJSON([]byte(`"` + v + `"`))
}
