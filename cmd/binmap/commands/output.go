package commands

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// render writes v in the configured output format. text prints the
// human-readable form.
func render(w io.Writer, v interface{}, text func(io.Writer) error) error {
	switch format := viper.GetString("output"); format {
	case "json":
		data, err := json.MarshalIndent(v, "", "    ")
		if err != nil {
			return errors.Wrap(err, "failed to encode json")
		}
		data = append(data, '\n')
		_, err = w.Write(data)
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "failed to encode yaml")
		}
		return enc.Close()
	case "", "text":
		return text(w)
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
