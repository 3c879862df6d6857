package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/stompy/pkg/config"
)

type Options struct {
	Verbose bool   `short:"v" long:"verbose" description:"Log telemetry and plan traffic"`
	LogFile string `long:"log-file" default:"stompy.log" description:"Log file, '-' for stderr"`
	Config  string `short:"c" long:"config" default:"stompy.yaml" description:"Configuration file"`

	Setup SetupCommand `command:"setup" description:"Find the legs and write the configuration"`
	Info  InfoCommand  `command:"info" description:"Print the configuration stored on each leg"`
	Walk  WalkCommand  `command:"walk" description:"Run the restriction gait"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "stompy - hexapod leg and gait control"
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		closeLog, err := setupLogging()
		if err != nil {
			return err
		}
		defer closeLog()
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// setupLogging sends logrus output to the log file so the terminal stays free
// for forms and the TUI.
func setupLogging() (func(), error) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if opts.LogFile == "" || opts.LogFile == "-" {
		logrus.SetOutput(os.Stderr)
		return func() {}, nil
	}
	f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	logrus.SetOutput(f)
	return func() { f.Close() }, nil
}

// configPath is the --config file, falling back to the default name when
// the flag is given empty.
func configPath() string {
	if opts.Config == "" {
		return config.DefaultConfigFile
	}
	return opts.Config
}

func loadConfig() (*config.Config, error) {
	return config.LoadFrom(configPath())
}
