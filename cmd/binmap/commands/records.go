package commands

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/wanglei-coder/binmap"
)

// RunRecords lists archive members in container order.
func RunRecords(cmd *cobra.Command, args []string) error {
	opts := options()
	f, err := binmap.Open(args[0], opts)
	if err != nil {
		return err
	}
	defer f.Close()

	archive, ok := f.Detector.(binmap.Archive)
	if !ok {
		return errors.Wrapf(binmap.ErrNotValid, "%s is %s, not an archive", args[0], f.FileType)
	}
	records := archive.Records(cmd.Context(), opts.RecordLimit)

	return render(cmd.OutOrStdout(), records, func(w io.Writer) error {
		fmt.Fprintf(w, "%s: %s, %d members\n", args[0], f.FileType, len(records))
		for _, r := range records {
			fmt.Fprintf(w, "  %-10s %10s -> %-10s %#010x  %s\n", r.MethodName,
				humanize.IBytes(uint64(r.CompressedSize)), humanize.IBytes(uint64(r.UncompressedSize)),
				r.DataOffset, r.FileName)
		}
		return nil
	})
}
