package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gonuts/commander"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/sequence"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/training"
)

func trainCmd() *commander.Command {
	cmd := &commander.Command{
		Run:       runTrain,
		UsageLine: "train [options]",
		Short:     "train the gesture classifier",
		Long: `
train reads data.dir/<class>/ sequence files for every configured class,
fits the classifier and writes the best checkpoint to model.path.

	$ mudra train -data data -out models/gesture_model.json.gz

The per-epoch history is written to history.json next to the artifact and
recorded in the store.
`,
		Flag: *newFlagSet("mudra-train"),
	}
	cmd.Flag.String("data", "", "overrides data.dir")
	cmd.Flag.String("out", "", "overrides model.path")
	cmd.Flag.Int("epochs", 0, "overrides train.epochs")
	cmd.Flag.Bool("scaler", false, "fit and save a feature scaler (train.fit_scaler)")
	return cmd
}

func runTrain(cmd *commander.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	if v := stringFlag(cmd, "data"); v != "" {
		cfg.Data.Dir = v
	}
	if v := stringFlag(cmd, "out"); v != "" {
		cfg.Model.Path = v
	}
	if v := cmd.Flag.Lookup("epochs").Value.Get().(int); v > 0 {
		cfg.Train.Epochs = v
	}
	if cmd.Flag.Lookup("scaler").Value.Get().(bool) {
		cfg.Train.FitScaler = true
	}

	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return train(ctx, cfg, st)
}

// train runs one training run and records it in st.
func train(ctx context.Context, cfg *config.Config, st *store.Store) error {
	vocab, err := cfg.Vocabulary()
	if err != nil {
		return err
	}

	ds, err := dataset.LoadDataset(cfg.Data.Dir, vocab)
	if err != nil {
		return err
	}
	dist := log.Info().Int("examples", len(ds.Examples))
	for class, n := range ds.Distribution() {
		dist = dist.Int(class, n)
	}
	dist.Msg("dataset loaded")

	outDir := filepath.Dir(cfg.Model.Path)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	if cfg.Train.FitScaler {
		sc, err := sequence.FitScaler(ds.Sequences())
		if err != nil {
			return fmt.Errorf("fit scaler: %w", err)
		}
		ds.ApplyScaler(sc)

		path := cfg.ScalerPath()
		if err := sc.Save(path); err != nil {
			return fmt.Errorf("save scaler: %w", err)
		}
		log.Info().Str("path", path).Msg("scaler saved")
	}

	net, err := classifier.NewGestureNet(vocab.Len(), cfg.Train.Seed)
	if err != nil {
		return err
	}

	runs := st.TrainingRuns()
	run := &store.TrainingRun{
		DataDir:      cfg.Data.Dir,
		ArtifactPath: cfg.Model.Path,
		Classes:      vocab.Names(),
		Examples:     len(ds.Examples),
	}
	if err := runs.Create(run); err != nil {
		return fmt.Errorf("record training run: %w", err)
	}

	opts := training.DefaultOptions()
	opts.Epochs = cfg.Train.Epochs
	opts.BatchSize = cfg.Train.BatchSize
	opts.ValidationSplit = cfg.Train.ValidationSplit
	opts.Seed = cfg.Train.Seed
	opts.LearningRate = cfg.Train.LearningRate
	opts.OnEpoch = func(s training.EpochStats) {
		// Epochs are stored as they finish so a running job can be inspected.
		if err := runs.AddEpochs(run.ID, []store.EpochRecord{store.EpochRecord(s)}); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Int("epoch", s.Epoch).Msg("failed to record epoch")
		}
	}

	ckpt := &training.ArtifactCheckpoint{
		Path:         cfg.Model.Path,
		Vocabulary:   vocab,
		LearningRate: cfg.Train.LearningRate,
		Scaled:       cfg.Train.FitScaler,
	}
	model := training.NewNetworkModel(net, cfg.Train.LearningRate)

	_, hist, fitErr := training.NewTrainer(opts).Fit(ctx, ds.Examples, vocab.Len(), model, ckpt)

	if hist != nil {
		run.BestEpoch = hist.BestEpoch
		run.BestValAccuracy = hist.BestValAccuracy
		run.StoppedEarly = hist.StoppedEarly
	}
	if err := runs.Finish(run, fitErr); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("failed to record training outcome")
	}
	if fitErr != nil {
		return fitErr
	}

	histPath := filepath.Join(outDir, "history.json")
	if err := hist.Save(histPath); err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	log.Info().
		Str("run_id", run.ID).
		Str("artifact", cfg.Model.Path).
		Int("best_epoch", hist.BestEpoch).
		Float64("best_val_accuracy", hist.BestValAccuracy).
		Bool("stopped_early", hist.StoppedEarly).
		Msg("training finished")
	return nil
}
