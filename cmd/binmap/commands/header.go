package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wanglei-coder/binmap"
)

// RunHeader dumps the primary header, applying any --set edits first.
func RunHeader(cmd *cobra.Command, args []string) error {
	edits, err := cmd.Flags().GetStringSlice("set")
	if err != nil {
		return err
	}

	open := binmap.Open
	if len(edits) > 0 {
		open = binmap.OpenWritable
	}
	f, err := open(args[0], options())
	if err != nil {
		return err
	}
	defer f.Close()

	if err := applyEdits(f, edits); err != nil {
		return err
	}

	decoder, ok := f.Detector.(binmap.HeaderDecoder)
	if !ok {
		return errors.Errorf("%s has no decodable header", f.FileType)
	}
	fields := decoder.Header()

	return render(cmd.OutOrStdout(), fields, func(w io.Writer) error {
		fmt.Fprintf(w, "%s: %s\n", args[0], f.FileType)
		for _, v := range fields {
			if v.Raw != nil {
				fmt.Fprintf(w, "  %#06x %-28s %q\n", v.Offset, v.Name, v.Raw)
				continue
			}
			fmt.Fprintf(w, "  %#06x %-28s %#x\n", v.Offset, v.Name, v.Value)
		}
		return nil
	})
}

func applyEdits(f *binmap.File, edits []string) error {
	if len(edits) == 0 {
		return nil
	}
	setter, ok := f.Detector.(binmap.FieldSetter)
	if !ok {
		return errors.Errorf("%s header is read-only", f.FileType)
	}
	for _, edit := range edits {
		name, raw, found := strings.Cut(edit, "=")
		if !found {
			return errors.Errorf("edit %q is not name=value", edit)
		}
		value, err := strconv.ParseUint(raw, 0, 64)
		if err != nil {
			return errors.Wrapf(err, "edit %q", edit)
		}
		if !setter.SetField(name, value) {
			return errors.Errorf("cannot set field %q", name)
		}
		logrus.WithFields(logrus.Fields{"field": name, "value": value}).Info("header field written")
	}
	return nil
}
