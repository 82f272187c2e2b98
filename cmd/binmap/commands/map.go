package commands

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zeebo/xxh3"

	"github.com/wanglei-coder/binmap"
	"github.com/wanglei-coder/binmap/stream"
)

// RegionInfo is a region with optional fingerprints of its bytes.
type RegionInfo struct {
	binmap.Region `yaml:",inline"`
	XXH3          string  `json:"xxh3,omitempty" yaml:"xxh3,omitempty"`
	Entropy       float64 `json:"entropy,omitempty" yaml:"entropy,omitempty"`
	FileType      string  `json:"file_type,omitempty" yaml:"file_type,omitempty"`
}

// MapInfo is the map output for one file.
type MapInfo struct {
	Path    string            `json:"path" yaml:"path"`
	Map     *binmap.MemoryMap `json:"map" yaml:"map"`
	Regions []RegionInfo      `json:"regions" yaml:"regions"`
}

// RunMap prints the memory map of a single file.
func RunMap(cmd *cobra.Command, args []string) error {
	mode, ok := binmap.ParseMapMode(viper.GetString("map_mode"))
	if !ok {
		return errors.Errorf("unknown map mode %q", viper.GetString("map_mode"))
	}
	f, err := binmap.Open(args[0], options())
	if err != nil {
		return err
	}
	defer f.Close()

	m := f.MemoryMap(cmd.Context(), mode)
	info := MapInfo{Path: args[0], Map: m}
	for _, r := range m.Regions {
		ri, err := describeRegion(f.Stream(), r)
		if err != nil {
			return err
		}
		info.Regions = append(info.Regions, ri)
	}

	return render(cmd.OutOrStdout(), info, func(w io.Writer) error {
		fmt.Fprintf(w, "%s: %s\n", info.Path, m.TypeString)
		fmt.Fprintf(w, "  arch %s, mode %s, endian %s, size %s\n", m.Arch, m.Mode, m.Endian, humanize.IBytes(uint64(m.BinarySize)))
		if m.EntryPoint >= 0 {
			fmt.Fprintf(w, "  entry point %#x, module base %#x, image size %s\n", m.EntryPoint, m.ModuleBase, humanize.IBytes(uint64(m.ImageSize)))
		}
		for _, r := range info.Regions {
			fmt.Fprintf(w, "  %3d %-11s %-24q off=%s addr=%s size=%s",
				r.Index, r.Type, r.Name, hexOrDash(r.Offset), hexOrDash(r.Address), humanize.IBytes(uint64(r.Size)))
			if r.XXH3 != "" {
				fmt.Fprintf(w, " xxh3=%s", r.XXH3)
			}
			if r.Entropy > 0 {
				fmt.Fprintf(w, " entropy=%.3f", r.Entropy)
			}
			if r.FileType != "" {
				fmt.Fprintf(w, " type=%s", r.FileType)
			}
			fmt.Fprintln(w)
		}
		return nil
	})
}

func describeRegion(s *stream.Stream, r binmap.Region) (RegionInfo, error) {
	info := RegionInfo{Region: r}
	if r.Offset < 0 {
		return info, nil
	}
	if viper.GetBool("hash") {
		h := xxh3.New()
		if _, err := io.Copy(h, s.SectionReader(r.Offset, r.Size)); err != nil {
			return info, errors.Wrapf(err, "failed to hash region %d", r.Index)
		}
		info.XXH3 = fmt.Sprintf("%016x", h.Sum64())
	}
	if viper.GetBool("entropy") {
		e, err := binmap.RegionEntropy(s, r)
		if err != nil {
			return info, err
		}
		info.Entropy = e
	}
	if r.Type == binmap.RegionOverlay {
		info.FileType = GetFileType(s.Bytes(r.Offset, 1024))
	}
	return info, nil
}

// GetFileType guesses the MIME type of data.
func GetFileType(data []byte) string {
	kind, _ := filetype.Match(data)
	if kind == filetype.Unknown {
		return "Data"
	}
	return kind.MIME.Value
}

func hexOrDash(v int64) string {
	if v < 0 {
		return "-"
	}
	return fmt.Sprintf("%#x", v)
}
