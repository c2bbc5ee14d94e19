// Command mudra serves the sign-gesture quiz and trains its classifier.
package main

import (
	"fmt"
	"os"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/logging"
)

var mudraCmd = &commander.Command{
	UsageLine: "mudra <command> [options]",
	Short:     "sign-gesture quiz recognition",
}

func init() {
	mudraCmd.Subcommands = []*commander.Command{
		serveCmd(),
		trainCmd(),
		recordCmd(),
		classesCmd(),
	}
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "mudra: %v\n", err)
		os.Exit(1)
	}

	if err := mudraCmd.Dispatch(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mudra: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set carrying the options every subcommand shares.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.String("config", "", "config file (default: ./mudra.yaml when present)")
	fs.String("log-level", "", "overrides log.level")
	return fs
}

func stringFlag(cmd *commander.Command, name string) string {
	f := cmd.Flag.Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.Get().(string)
}

// setup loads the configuration named by the -config flag and initializes
// the global logger from it.
func setup(cmd *commander.Command) (*config.Config, error) {
	cfg, err := config.Load(stringFlag(cmd, "config"))
	if err != nil {
		return nil, err
	}
	if lvl := stringFlag(cmd, "log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}
