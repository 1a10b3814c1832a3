// adapt compresses files into ADAPTV3 containers and restores them.
//
//	adapt compress [flags] FILE...
//	adapt decompress [flags] CONTAINER...
//	adapt inspect CONTAINER...
//	adapt predict [flags] FILE...
//	adapt calibrate [--save PATH]
//	adapt verify CONTAINER [ORIGINAL]
//
// Every command accepts --config to load a YAML configuration and
// --log-level to override its log level.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/absfs/adaptive"
)

// errIncomplete marks a run that finished but left items failed or
// cancelled.
var errIncomplete = errors.New("some items were not processed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if err != errIncomplete {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// options holds every flag; each command reads the ones it needs.
type options struct {
	configPath   string
	logLevel     string
	outputDir    string
	force        bool
	strict       bool
	priority     string
	maxTime      float64
	networkAware bool
	save         string
}

func (o *options) addFlags(fs *pflag.FlagSet, command string) {
	fs.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	switch command {
	case "compress", "decompress":
		fs.StringVarP(&o.outputDir, "output-dir", "o", "", "write outputs into this directory")
		fs.BoolVarP(&o.force, "force", "f", false, "replace existing outputs")
	}
	switch command {
	case "decompress", "verify":
		fs.BoolVar(&o.strict, "strict", false, "treat any damaged block as a failure")
	}
	switch command {
	case "compress", "predict":
		fs.StringVar(&o.priority, "priority", "", "speed, balanced or size")
		fs.Float64Var(&o.maxTime, "max-time", 0, "time budget in seconds")
		fs.BoolVar(&o.networkAware, "network-aware", false, "favour size on a congested link")
	}
	if command == "calibrate" {
		fs.StringVar(&o.save, "save", "", "write the calibration snapshot here (default: calibration_file)")
	}
}

type command func(ctx context.Context, env *environment, args []string) error

var commands = map[string]command{
	"compress":   runCompress,
	"decompress": runDecompress,
	"inspect":    runInspect,
	"predict":    runPredict,
	"calibrate":  runCalibrate,
	"verify":     runVerify,
}

// environment is what every command runs against.
type environment struct {
	engine *adaptive.Engine
	file   *adaptive.FileConfig
	opts   options
	log    *logrus.Logger
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return errors.New("no command given")
		}
		return nil
	}

	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		printUsage(stderr)
		return errors.Errorf("unknown command %q", name)
	}

	var opts options
	flagSet := newFlagSet(&opts, name)
	flagSet.SetOutput(stderr)
	if err := flagSet.Parse(args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	env, err := newEnvironment(opts, flagSet, stdout, stderr)
	if err != nil {
		return err
	}
	return cmd(ctx, env, flagSet.Args())
}

func newFlagSet(opts *options, command string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("adapt "+command, pflag.ContinueOnError)
	opts.addFlags(flagSet, command)
	return flagSet
}

func newEnvironment(opts options, flagSet *pflag.FlagSet, stdout, stderr io.Writer) (*environment, error) {
	cfg := adaptive.DefaultConfig()
	fc := &adaptive.FileConfig{}
	if opts.configPath != "" {
		var err error
		cfg, fc, err = adaptive.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetLevel(logrus.WarnLevel)
	if l, ok := cfg.Logger.(*logrus.Logger); ok {
		logger.SetLevel(l.GetLevel())
	}
	if opts.logLevel != "" {
		level, err := logrus.ParseLevel(opts.logLevel)
		if err != nil {
			return nil, errors.Wrap(err, "--log-level")
		}
		logger.SetLevel(level)
	}
	cfg.Logger = logger

	if flagSet.Changed("priority") {
		p, err := adaptive.ParsePriority(opts.priority)
		if err != nil {
			return nil, err
		}
		cfg.Priority = p
	}
	if flagSet.Changed("max-time") {
		cfg.MaxTimeSeconds = opts.maxTime
	}
	if flagSet.Changed("network-aware") {
		cfg.NetworkAware = opts.networkAware
	}
	if flagSet.Changed("strict") {
		cfg.StrictIntegrity = opts.strict
	}

	engine, err := adaptive.New(adaptive.OSFS(), cfg)
	if err != nil {
		return nil, err
	}
	return &environment{engine: engine, file: fc, opts: opts, log: logger, stdout: stdout}, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `adapt compresses files block by block with the codec that suits each block.

Usage:
  adapt compress [flags] FILE...         write FILE.adapt for each FILE
  adapt decompress [flags] CONTAINER...  restore each container
  adapt inspect CONTAINER...             print both manifest copies
  adapt predict [flags] FILE...          show the whole-file codec choice
  adapt calibrate [--save PATH]          time the codecs on this machine
  adapt verify CONTAINER [ORIGINAL]      check every block and the digest

Run "adapt COMMAND --help" for the flags of a command.
`)
}
