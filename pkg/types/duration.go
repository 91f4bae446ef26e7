package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so YAML/JSON configs can spell durations as
// "30s", "5m" or plain seconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var o interface{}

	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}

	switch t := o.(type) {
	case string:
		dd, err := time.ParseDuration(t)
		if err != nil {
			return err
		}
		*d = Duration(dd)

	case float64:
		*d = Duration(int64(t * float64(time.Second)))

	case int64:
		*d = Duration(t * int64(time.Second))
	case int:
		*d = Duration(int64(t) * int64(time.Second))

	default:
		return fmt.Errorf("unsupported duration type %T value: %v", t, t)
	}

	return nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dd, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(dd)
	return nil
}
