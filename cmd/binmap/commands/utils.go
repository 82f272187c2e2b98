package commands

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wanglei-coder/binmap"
)

// LoadConfig loads configuration from files and environment
func LoadConfig() error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Wrap(err, "failed to read config file")
		}
	}

	viper.SetEnvPrefix("BINMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return nil
}

// SetupLogging configures the logging system
func SetupLogging() error {
	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	logrus.SetLevel(level)

	switch format := viper.GetString("log_format"); format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("invalid log format %q", format)
	}

	var out io.Writer = os.Stderr
	if file := viper.GetString("log_file"); file != "" {
		out = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100,
			MaxBackups: 10,
			Compress:   true,
		}
	}
	logrus.SetOutput(out)
	return nil
}

// options builds scan options from the loaded configuration.
func options() binmap.Options {
	return binmap.Options{
		MaxDepth:      viper.GetInt("max_depth"),
		RecordLimit:   viper.GetInt("record_limit"),
		MaxMemberSize: viper.GetInt64("max_member_size"),
		MaxScanBytes:  viper.GetInt64("max_scan_bytes"),
		Logger:        logrus.StandardLogger(),
	}
}
