// Command latentalign trains autoencoders whose latent spaces are aligned
// across two data domains by an adversarial latent discriminator.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
	outputDir  string
	historyDB  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "latentalign",
		Short:         "Align the latent spaces of per-domain autoencoders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "experiment YAML file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides log_level")
	pf.BoolVar(&opts.logJSON, "log-json", false, "log as JSON")
	pf.StringVarP(&opts.outputDir, "output-dir", "o", "", "override train.output_dir")
	pf.StringVar(&opts.historyDB, "history", "", "override history_db")

	root.AddCommand(
		newTrainCommand(opts),
		newTrainVAECommand(opts),
		newInspectCommand(),
	)
	return root
}

func newLogger(level string, asJSON bool) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if asJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	return logger, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "latentalign:", err)
		os.Exit(1)
	}
}
