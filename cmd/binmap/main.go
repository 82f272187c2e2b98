package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wanglei-coder/binmap"
	"github.com/wanglei-coder/binmap/cmd/binmap/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "binmap",
		Short: "binmap - recognize binary formats and map their layout",
		Long: `binmap identifies executables, archives and media containers and breaks
them down into typed regions: headers, segments, members and overlays.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := commands.LoadConfig(); err != nil {
				return err
			}
			return commands.SetupLogging()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Configuration file path")
	flags.String("log-level", "warn", "Logging level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("log-file", "", "Write logs to this file, rotated")
	flags.StringP("output", "o", "text", "Output format (text, json, yaml)")
	flags.Int("max-depth", binmap.DefaultMaxDepth, "Maximum container nesting to descend")
	flags.Int("record-limit", binmap.DefaultRecordLimit, "Maximum members read from one archive")
	flags.Int64("max-member-size", binmap.DefaultMaxMemberSize, "Maximum decompressed size of one member")
	flags.Int64("max-scan-bytes", binmap.DefaultMaxScanBytes, "Maximum decompressed bytes expanded for one file")

	viper.BindPFlag("config", flags.Lookup("config"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("log_file", flags.Lookup("log-file"))
	viper.BindPFlag("output", flags.Lookup("output"))
	viper.BindPFlag("max_depth", flags.Lookup("max-depth"))
	viper.BindPFlag("record_limit", flags.Lookup("record-limit"))
	viper.BindPFlag("max_member_size", flags.Lookup("max-member-size"))
	viper.BindPFlag("max_scan_bytes", flags.Lookup("max-scan-bytes"))

	detectCmd := &cobra.Command{
		Use:   "detect FILE...",
		Short: "Identify the format of one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  commands.RunDetect,
	}
	detectCmd.Flags().Int("workers", 4, "Number of files scanned in parallel")
	viper.BindPFlag("workers", detectCmd.Flags().Lookup("workers"))

	mapCmd := &cobra.Command{
		Use:   "map FILE",
		Short: "Print the memory map of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  commands.RunMap,
	}
	mapCmd.Flags().String("mode", "default", "Map mode (default, segments, sections)")
	mapCmd.Flags().Bool("hash", false, "Fingerprint every file-backed region with xxh3")
	mapCmd.Flags().Bool("entropy", false, "Compute the entropy of every file-backed region")
	viper.BindPFlag("map_mode", mapCmd.Flags().Lookup("mode"))
	viper.BindPFlag("hash", mapCmd.Flags().Lookup("hash"))
	viper.BindPFlag("entropy", mapCmd.Flags().Lookup("entropy"))

	recordsCmd := &cobra.Command{
		Use:   "records FILE",
		Short: "List the members of an archive",
		Args:  cobra.ExactArgs(1),
		RunE:  commands.RunRecords,
	}

	headerCmd := &cobra.Command{
		Use:   "header FILE",
		Short: "Dump or edit the primary header of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  commands.RunHeader,
	}
	headerCmd.Flags().StringSlice("set", nil, "Write header fields (name=value), editing the file in place")

	rootCmd.AddCommand(detectCmd, mapCmd, recordsCmd, headerCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
