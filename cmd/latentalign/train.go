package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-latent/data"
	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/history"
	"github.com/tsawler/go-latent/training"
)

func newTrainCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train two domain autoencoders with a latent discriminator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd, opts, true)
		},
	}
}

func newTrainVAECommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train-vae",
		Short: "Train the first domain's autoencoder on its own",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd, opts, false)
		},
	}
}

// trainer is satisfied by both training loops.
type trainer interface {
	Run(ctx context.Context) (*training.Result, error)
}

func runExperiment(cmd *cobra.Command, opts *rootOptions, twoDomains bool) error {
	exp, err := loadExperiment(opts.configPath)
	if err != nil {
		return err
	}
	if opts.outputDir != "" {
		exp.Train.OutputDir = opts.outputDir
	}
	if opts.historyDB != "" {
		exp.HistoryDB = opts.historyDB
	}
	level := exp.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, err := newLogger(level, opts.logJSON)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var clf *domain.LatentModelConfig
	if exp.Train.UseCLF {
		if !exp.hasClassifier() {
			return fmt.Errorf("%w: train.use_clf is set but no clf is declared", domain.ErrConfiguration)
		}
		if clf, err = domain.NewLatentModelConfig(exp.CLF); err != nil {
			return err
		}
	}

	var (
		domains []*domain.DomainConfig
		runOpts []training.Option
	)
	want := 1
	if twoDomains {
		want = 2
	}
	if len(exp.Domains) < want {
		return fmt.Errorf("%w: %s needs %d domains, the experiment declares %d", domain.ErrConfiguration, cmd.Name(), want, len(exp.Domains))
	}
	for _, entry := range exp.Domains[:want] {
		d, err := buildDomain(entry)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"domain":    d.Name,
			"trainable": d.ModelConfig.Trainable,
		}).Info("domain ready")
		domains = append(domains, d)
	}

	collector := training.NewVisualizationCollector(exp.Name)
	runOpts = append(runOpts,
		training.WithLogger(logger),
		training.WithRecorder(collector),
		training.WithRecorder(training.NewProgressRecorder(cmd.OutOrStdout(), exp.Name, exp.Train.NumEpochs)),
	)
	if exp.Plotting.Enabled {
		ps := training.NewPlottingService(exp.Plotting.PlottingServiceConfig,
			training.WithCollector(collector), training.WithPlottingLogger(logger))
		if err := ps.CheckHealth(ctx); err != nil {
			logger.WithError(err).Warn("plotting service unavailable, plots will fail")
		}
		runOpts = append(runOpts, training.WithVisualizer(ps))
	}

	var run *history.Run
	if exp.HistoryDB != "" {
		store, err := history.Open(exp.HistoryDB, history.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()
		if run, err = store.StartRun(exp.Name); err != nil {
			return err
		}
		runOpts = append(runOpts, training.WithRecorder(run))
	}

	var t trainer
	if twoDomains {
		dcm, err := domain.NewLatentModelConfig(exp.DCM)
		if err != nil {
			return err
		}
		t, err = training.NewTwoDomainTrainer(exp.Train, domains, dcm, clf, runOpts...)
		if err != nil {
			return err
		}
	} else {
		t, err = training.NewSingleDomainTrainer(exp.Train, domains[0], clf, runOpts...)
		if err != nil {
			return err
		}
	}

	result, runErr := t.Run(ctx)
	if run != nil {
		status := "completed"
		if runErr != nil {
			status = "failed"
		}
		if err := run.Finish(status); err != nil {
			logger.WithError(err).Warn("could not finish history run")
		}
	}
	if runErr != nil {
		return runErr
	}

	logger.WithFields(logrus.Fields{
		"epochs":        result.EpochsRun,
		"best_epoch":    result.BestEpoch + 1,
		"best_val_loss": result.BestValLoss,
		"stopped_early": result.StoppedEarly,
		"output_dir":    exp.Train.OutputDir,
	}).Info("run finished")
	return nil
}

// buildDomain loads a domain's dataset, splits it into phase loaders and
// builds its model. A zero model input_dim is taken from the data.
func buildDomain(entry DomainEntry) (*domain.DomainConfig, error) {
	ds, err := data.FromSource(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: domain %q data: %w", domain.ErrConfiguration, entry.Name, err)
	}
	spec := entry.DomainSpec
	if spec.Model.InputDim == 0 {
		spec.Model.InputDim = ds.Dim()
	}
	loaders, err := domain.BuildLoaders(ds, entry.Loader, spec.DataKey, spec.LabelKey)
	if err != nil {
		return nil, fmt.Errorf("domain %q: %w", entry.Name, err)
	}
	return domain.NewDomainConfig(spec, loaders)
}
