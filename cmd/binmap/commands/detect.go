package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/wanglei-coder/binmap"
)

// DetectResult is the detect output for one file.
type DetectResult struct {
	Path   string         `json:"path" yaml:"path"`
	Size   int64          `json:"size" yaml:"size"`
	OS     binmap.OSInfo  `json:"os" yaml:"os"`
	Result *binmap.Result `json:"result" yaml:"result"`
	// RichHash is the MD5 of the decoded Rich header of PE images.
	RichHash string `json:"rich_hash,omitempty" yaml:"rich_hash,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunDetect scans every argument, several files at a time.
func RunDetect(cmd *cobra.Command, args []string) error {
	opts := options()
	workers := viper.GetInt("workers")
	if workers <= 0 {
		workers = 1
	}

	results := make([]DetectResult, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(workers)
	for i, path := range args {
		g.Go(func() error {
			results[i] = detectFile(ctx, path, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), results, func(w io.Writer) error {
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(w, "%s: error: %s\n", r.Path, r.Error)
				continue
			}
			fmt.Fprintf(w, "%s: %s, %s, %s %s-bit %s (%s)\n", r.Path, r.Result.FileType,
				r.OS.Name, r.OS.Arch, r.OS.Mode, r.OS.Endian, humanize.IBytes(uint64(r.Size)))
			for _, c := range r.Result.Children {
				c.Walk(func(n *binmap.Result) {
					fmt.Fprintf(w, "%s%s: %s\n", strings.Repeat("  ", n.Depth), n.Name, n.FileType)
				})
			}
		}
		return nil
	})
}

func detectFile(ctx context.Context, path string, opts binmap.Options) DetectResult {
	out := DetectResult{Path: path}
	f, err := binmap.ScanFile(ctx, path, opts)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer f.Close()

	out.Size = f.GetSize()
	out.Result = f.Result
	out.OS = f.Detector.OSInfo()
	if pe, ok := f.Detector.(*binmap.PE); ok {
		out.RichHash = pe.RichHeaderHash()
	}
	if err := f.Err(); err != nil {
		logrus.WithField("path", path).Warn(err)
	}
	return out
}
