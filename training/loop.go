package training

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/optimizer"
	"github.com/tsawler/go-latent/tensor"
)

// LoopConfig configures a train/val/test run.
type LoopConfig struct {
	OutputDir string  `mapstructure:"output_dir" yaml:"output_dir"`
	Alpha     float64 `mapstructure:"alpha" yaml:"alpha"`
	Beta      float64 `mapstructure:"beta" yaml:"beta"`
	Lambda    float64 `mapstructure:"lamb" yaml:"lamb"`
	UseDCM    bool    `mapstructure:"use_dcm" yaml:"use_dcm"`
	UseCLF    bool    `mapstructure:"use_clf" yaml:"use_clf"`
	NumEpochs int     `mapstructure:"num_epochs" yaml:"num_epochs"`
	// SaveFreq is the cadence, in epochs, of periodic snapshots and
	// visualization. Zero or less disables both.
	SaveFreq int `mapstructure:"save_freq" yaml:"save_freq"`
	// EarlyStopping is the patience in validation epochs. Zero or less
	// disables early stopping.
	EarlyStopping int             `mapstructure:"early_stopping" yaml:"early_stopping"`
	Device        string          `mapstructure:"device" yaml:"device"`
	Scheduler     SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
}

// DefaultLoopConfig returns the default run settings.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		OutputDir:     "./output",
		Alpha:         0.1,
		Beta:          1.0,
		Lambda:        1e-8,
		UseDCM:        true,
		UseCLF:        false,
		NumEpochs:     500,
		SaveFreq:      10,
		EarlyStopping: 20,
		Device:        "cpu",
	}
}

// Recorder receives the statistics of every completed phase.
type Recorder interface {
	RecordEpoch(phase domain.Phase, epoch int, stats Statistics) error
}

// Result summarizes a finished run.
type Result struct {
	// LossHistory holds the total loss of every train and val epoch.
	LossHistory    map[domain.Phase][]float64
	BestValLoss    float64
	BestEpoch      int
	EpochsRun      int
	StoppedEarly   bool
	TestStatistics Statistics
	Duration       time.Duration
}

// Option configures a trainer.
type Option func(*loop)

// WithVisualizer sets the collaborator called on every save cadence hit.
func WithVisualizer(v Visualizer) Option {
	return func(l *loop) { l.visualizer = v }
}

// WithRecorder adds a recorder of epoch statistics.
func WithRecorder(r Recorder) Option {
	return func(l *loop) { l.recorders = append(l.recorders, r) }
}

// WithLogger sets the logger; the default is the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *loop) { l.logger = logger }
}

// epochRunner processes one phase of one epoch.
type epochRunner func(ctx context.Context, opts StepOptions) (Statistics, error)

// loop is the train/val/test state machine shared by both trainers.
type loop struct {
	cfg        LoopConfig
	domains    []*domain.DomainConfig
	snapshots  *SnapshotSet
	optimizers []optimizer.Optimizer
	runEpoch   epochRunner
	hasTest    bool

	visualizer Visualizer
	recorders  []Recorder
	logger     logrus.FieldLogger
}

func newLoop(cfg LoopConfig, opts []Option) *loop {
	l := &loop{
		cfg:       cfg,
		snapshots: NewSnapshotSet(),
		logger:    logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *loop) stepOptions(phase domain.Phase, device tensor.DeviceType) StepOptions {
	return StepOptions{
		Alpha:  l.cfg.Alpha,
		Beta:   l.cfg.Beta,
		Lambda: l.cfg.Lambda,
		UseDCM: l.cfg.UseDCM,
		UseCLF: l.cfg.UseCLF,
		Phase:  phase,
		Device: device,
	}
}

// resolveDevice maps the configured device to a compute backend. Only the
// CPU backend exists, so accelerator requests fall back with a warning.
func (l *loop) resolveDevice() (tensor.DeviceType, error) {
	device, err := tensor.ParseDevice(l.cfg.Device)
	if err != nil {
		return tensor.CPU, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	if device != tensor.CPU {
		l.logger.WithField("device", l.cfg.Device).Warn("accelerator requested, training on CPU")
	}
	return tensor.CPU, nil
}

func (l *loop) run(ctx context.Context) (*Result, error) {
	if l.cfg.NumEpochs <= 0 {
		return nil, fmt.Errorf("%w: num_epochs must be positive, got %d", domain.ErrConfiguration, l.cfg.NumEpochs)
	}
	device, err := l.resolveDevice()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	schedulers, err := newScheduledOptimizers(l.cfg.Scheduler, l.optimizers)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stopper := NewEarlyStopper(l.cfg.EarlyStopping, l.cfg.NumEpochs)
	result := &Result{
		LossHistory: map[domain.Phase][]float64{domain.PhaseTrain: {}, domain.PhaseVal: {}},
		BestValLoss: math.Inf(1),
		BestEpoch:   -1,
	}

	for epoch := 0; epoch < l.cfg.NumEpochs; epoch++ {
		for _, s := range schedulers {
			s.beginEpoch(epoch)
		}

		for _, phase := range []domain.Phase{domain.PhaseTrain, domain.PhaseVal} {
			stats, err := l.runEpoch(ctx, l.stepOptions(phase, device))
			if err != nil {
				return nil, fmt.Errorf("epoch %d %s: %w", epoch+1, phase, err)
			}
			total := stats[MetricTotalLoss]
			result.LossHistory[phase] = append(result.LossHistory[phase], total)
			if err := l.record(phase, epoch, stats); err != nil {
				return nil, err
			}

			if phase != domain.PhaseVal {
				continue
			}
			if math.IsNaN(total) || math.IsInf(total, 0) {
				if err := l.snapshots.Restore(); err != nil {
					return nil, err
				}
				result.EpochsRun = epoch + 1
				result.Duration = time.Since(start)
				return result, fmt.Errorf("%w: epoch %d validation total loss is %v", ErrNumericDegeneracy, epoch+1, total)
			}
			if stopper.Step(epoch, total) {
				l.snapshots.Capture()
				if err := l.snapshots.SaveBest(l.cfg.OutputDir); err != nil {
					return nil, err
				}
				result.BestValLoss = total
				result.BestEpoch = epoch
				l.logger.WithFields(logrus.Fields{
					"epoch":    epoch + 1,
					"val_loss": total,
				}).Info("validation loss improved, best snapshot saved")
			}
			if l.cfg.SaveFreq > 0 && epoch%l.cfg.SaveFreq == 0 {
				if err := l.savePeriodic(ctx, epoch, device); err != nil {
					return nil, err
				}
			}
			for _, s := range schedulers {
				s.endEpoch(total)
			}
		}

		result.EpochsRun = epoch + 1
		if stopper.ShouldStop() {
			result.StoppedEarly = true
			l.logger.WithFields(logrus.Fields{
				"epoch":    epoch + 1,
				"patience": stopper.Patience(),
			}).Info("early stopping, no validation improvement")
			break
		}
	}

	result.Duration = time.Since(start)
	l.logger.WithFields(logrus.Fields{
		"epochs":     result.EpochsRun,
		"best_epoch": result.BestEpoch + 1,
		"best_loss":  result.BestValLoss,
		"duration":   result.Duration.Round(time.Millisecond),
	}).Info("training completed, restoring best weights")
	if err := l.snapshots.Restore(); err != nil {
		return nil, err
	}

	if l.hasTest {
		stats, err := l.runEpoch(ctx, l.stepOptions(domain.PhaseTest, device))
		if err != nil {
			return nil, fmt.Errorf("test: %w", err)
		}
		result.TestStatistics = stats
		if err := l.record(domain.PhaseTest, result.EpochsRun, stats); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (l *loop) savePeriodic(ctx context.Context, epoch int, device tensor.DeviceType) error {
	dir, err := l.snapshots.SavePeriodic(l.cfg.OutputDir, epoch+1)
	if err != nil {
		return err
	}
	l.logger.WithFields(logrus.Fields{"epoch": epoch + 1, "dir": dir}).Info("periodic snapshot saved")

	if l.visualizer == nil {
		return nil
	}
	if err := l.visualizer.VisualizeEpoch(ctx, l.domains, epoch, l.cfg.OutputDir, device); err != nil {
		l.logger.WithField("epoch", epoch+1).WithError(err).Warn("visualization failed")
	}
	return nil
}

func (l *loop) record(phase domain.Phase, epoch int, stats Statistics) error {
	fields := logrus.Fields{"epoch": epoch + 1, "phase": phase}
	for k, v := range stats {
		fields[k] = v
	}
	l.logger.WithFields(fields).Debug("epoch statistics")

	for _, r := range l.recorders {
		if err := r.RecordEpoch(phase, epoch, stats); err != nil {
			return fmt.Errorf("record %s epoch %d: %w", phase, epoch+1, err)
		}
	}
	return nil
}

// TwoDomainTrainer aligns the latent spaces of two domains with a shared
// discriminator and an optional shared classifier.
type TwoDomainTrainer struct {
	loop    *loop
	domains [2]*domain.DomainConfig
	dcm     *domain.LatentModelConfig
	clf     *domain.LatentModelConfig
}

// NewTwoDomainTrainer validates the collaborators and snapshots the initial
// weights of every live model as the first best. clf may be nil unless
// cfg.UseCLF is set.
func NewTwoDomainTrainer(cfg LoopConfig, domains []*domain.DomainConfig, dcm, clf *domain.LatentModelConfig, opts ...Option) (*TwoDomainTrainer, error) {
	if len(domains) != 2 || domains[0] == nil || domains[1] == nil {
		return nil, fmt.Errorf("%w: exactly two domains are required, got %d", ErrContractViolation, len(domains))
	}
	if domains[0].Name == domains[1].Name {
		return nil, fmt.Errorf("%w: both domains are named %q", ErrContractViolation, domains[0].Name)
	}
	if err := checkLatent(dcm, "discriminator", true); err != nil {
		return nil, err
	}
	if err := checkDiscriminatorShape(dcm.Model, cfg.UseDCM); err != nil {
		return nil, err
	}
	if cfg.UseCLF {
		if err := checkLatent(clf, "classifier", true); err != nil {
			return nil, err
		}
	} else {
		clf = nil
	}
	for _, d := range domains {
		if _, err := phaseLoader(d, domain.PhaseTrain); err != nil {
			return nil, err
		}
		if _, err := phaseLoader(d, domain.PhaseVal); err != nil {
			return nil, err
		}
	}

	t := &TwoDomainTrainer{
		loop:    newLoop(cfg, opts),
		domains: [2]*domain.DomainConfig{domains[0], domains[1]},
		dcm:     dcm,
		clf:     clf,
	}
	l := t.loop
	l.domains = domains
	l.runEpoch = func(ctx context.Context, opts StepOptions) (Statistics, error) {
		return ProcessEpochTwoDomains(ctx, t.domains, t.dcm, t.clf, opts)
	}
	_, testI := domains[0].Loader(domain.PhaseTest)
	_, testJ := domains[1].Loader(domain.PhaseTest)
	l.hasTest = testI && testJ

	for _, d := range domains {
		l.snapshots.Track("vae_"+d.Name, d.ModelConfig.Model, SnapshotFiles{
			Best:     fmt.Sprintf("best_vae_%s.pth", d.Name),
			Periodic: fmt.Sprintf("vae_%s.pth", d.Name),
		})
		if d.ModelConfig.Trainable {
			l.optimizers = append(l.optimizers, d.ModelConfig.Optimizer)
		}
	}
	l.snapshots.Track("dcm", dcm.Model, SnapshotFiles{Best: "best_dcm.pth", Periodic: "dcm.pth"})
	l.optimizers = append(l.optimizers, dcm.Optimizer)
	if clf != nil {
		l.snapshots.Track("clf", clf.Model, SnapshotFiles{Best: "best_clf.pth", Periodic: "clf.pth"})
		l.optimizers = append(l.optimizers, clf.Optimizer)
	}
	return t, nil
}

// checkDiscriminatorShape rejects a discriminator that cannot tell two
// domains apart or whose label columns disagree with useDCM. Models that do
// not report their shape are accepted as is.
func checkDiscriminatorShape(m layers.Module, useDCM bool) error {
	if c, ok := m.(interface{ NClasses() int }); ok && c.NClasses() != 2 {
		return fmt.Errorf("%w: discriminator must have 2 output classes for two domains, has %d", ErrContractViolation, c.NClasses())
	}
	if c, ok := m.(interface{ ConditionDim() int }); ok {
		if useDCM && c.ConditionDim() == 0 {
			return fmt.Errorf("%w: use_dcm is set but the discriminator takes no label columns", ErrContractViolation)
		}
		if !useDCM && c.ConditionDim() != 0 {
			return fmt.Errorf("%w: use_dcm is off but the discriminator expects %d label columns", ErrContractViolation, c.ConditionDim())
		}
	}
	return nil
}

// Run executes the train/val loop, restores the best weights and runs the
// test phase when both domains have a test loader.
func (t *TwoDomainTrainer) Run(ctx context.Context) (*Result, error) {
	return t.loop.run(ctx)
}

// Snapshots exposes the best snapshot of every tracked model.
func (t *TwoDomainTrainer) Snapshots() *SnapshotSet {
	return t.loop.snapshots
}

// SingleDomainTrainer trains one domain's autoencoder, optionally with a
// latent classifier.
type SingleDomainTrainer struct {
	loop   *loop
	domain *domain.DomainConfig
	clf    *domain.LatentModelConfig
}

// NewSingleDomainTrainer validates the collaborators and snapshots the
// initial weights. UseDCM and Alpha do not apply to a single domain.
func NewSingleDomainTrainer(cfg LoopConfig, d *domain.DomainConfig, clf *domain.LatentModelConfig, opts ...Option) (*SingleDomainTrainer, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: domain is required", ErrContractViolation)
	}
	if cfg.UseCLF {
		if err := checkLatent(clf, "classifier", true); err != nil {
			return nil, err
		}
	} else {
		clf = nil
	}
	if _, err := phaseLoader(d, domain.PhaseTrain); err != nil {
		return nil, err
	}
	if _, err := phaseLoader(d, domain.PhaseVal); err != nil {
		return nil, err
	}

	t := &SingleDomainTrainer{loop: newLoop(cfg, opts), domain: d, clf: clf}
	l := t.loop
	l.domains = []*domain.DomainConfig{d}
	l.runEpoch = func(ctx context.Context, opts StepOptions) (Statistics, error) {
		return ProcessEpochSingleDomain(ctx, t.domain, t.clf, opts)
	}
	_, l.hasTest = d.Loader(domain.PhaseTest)

	l.snapshots.Track("vae", d.ModelConfig.Model, SnapshotFiles{Best: "best_vae.pth", Periodic: "vae.pth"})
	if d.ModelConfig.Trainable {
		l.optimizers = append(l.optimizers, d.ModelConfig.Optimizer)
	}
	if clf != nil {
		l.snapshots.Track("clf", clf.Model, SnapshotFiles{Best: "best_clf.pth", Periodic: "latent_clf.pth"})
		l.optimizers = append(l.optimizers, clf.Optimizer)
	}
	return t, nil
}

// Run executes the train/val loop, restores the best weights and runs the
// test phase when the domain has a test loader.
func (t *SingleDomainTrainer) Run(ctx context.Context) (*Result, error) {
	return t.loop.run(ctx)
}

// Snapshots exposes the best snapshot of every tracked model.
func (t *SingleDomainTrainer) Snapshots() *SnapshotSet {
	return t.loop.snapshots
}
