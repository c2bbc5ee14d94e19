package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/nn"
)

var (
	// ErrTooFewExamples is returned when the data cannot be split into a
	// training and a validation part.
	ErrTooFewExamples = errors.New("training: need at least two examples")
	// ErrDiverged is returned when the loss stops being a finite number.
	ErrDiverged = errors.New("training: loss is not finite")
)

// Options control a training run.
type Options struct {
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Seed            uint64
	LearningRate    float64

	// Learning-rate decay on a validation loss plateau.
	PlateauPatience int
	PlateauFactor   float64
	PlateauMinDelta float64
	MinLearningRate float64

	// EarlyStopPatience is the number of epochs without validation loss
	// improvement before training stops.
	EarlyStopPatience int

	// OnEpoch is called after the callbacks of every epoch.
	OnEpoch func(EpochStats)

	Logger *zerolog.Logger
}

// DefaultOptions returns the standard training configuration.
func DefaultOptions() Options {
	return Options{
		Epochs:            100,
		BatchSize:         16,
		ValidationSplit:   0.2,
		Seed:              42,
		LearningRate:      0.001,
		PlateauPatience:   10,
		PlateauFactor:     0.5,
		PlateauMinDelta:   1e-4,
		MinLearningRate:   1e-4,
		EarlyStopPatience: 20,
	}
}

// EpochStats are the metrics of one epoch. LearningRate is the rate used
// during the epoch.
type EpochStats struct {
	Epoch        int     `json:"epoch"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	LearningRate float64 `json:"learning_rate"`
	Checkpointed bool    `json:"checkpointed"`
}

// History records a finished run.
type History struct {
	Epochs          []EpochStats `json:"epochs"`
	BestEpoch       int          `json:"best_epoch"`
	BestValAccuracy float64      `json:"best_val_accuracy"`
	StoppedEarly    bool         `json:"stopped_early"`
	StoppedEpoch    int          `json:"stopped_epoch,omitempty"`
	TrainExamples   int          `json:"train_examples"`
	ValExamples     int          `json:"val_examples"`
}

// Save writes the history as JSON, replacing path atomically.
func (h *History) Save(path string) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

// Split shuffles the indices 0..n-1 with seed and returns the training and
// validation parts. The validation part holds ceil(fraction·n) indices and
// both parts are non-empty.
func Split(n int, fraction float64, seed uint64) (train, val []int, err error) {
	if n < 2 {
		return nil, nil, ErrTooFewExamples
	}
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("training: validation split %v out of (0, 1)", fraction)
	}

	nVal := int(math.Ceil(fraction * float64(n)))
	nVal = max(1, min(nVal, n-1))

	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)
	return perm[nVal:], perm[:nVal], nil
}

// Trainer runs the epoch loop.
type Trainer struct {
	opts Options
	log  zerolog.Logger
}

// NewTrainer returns a trainer using opts.
func NewTrainer(opts Options) *Trainer {
	l := log.Logger
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Trainer{opts: opts, log: l.With().Str("component", "trainer").Logger()}
}

type examples struct {
	x nn.Seq
	y [][]float64
}

func gather(all []dataset.Example, idx []int, classes int) examples {
	e := examples{x: make(nn.Seq, len(idx)), y: make([][]float64, len(idx))}
	for i, j := range idx {
		e.x[i] = classifier.Batch(&all[j].Sequence)[0]
		e.y[i] = nn.OneHot(all[j].Label, classes)
	}
	return e
}

// Fit trains model on examples with labels in [0, classes). After every
// epoch it checkpoints on a strictly better validation accuracy, halves the
// learning rate on a validation loss plateau and stops early when validation
// loss no longer improves. The returned model is reloaded from the best
// checkpoint, not the in-memory state at the end of the loop.
func (t *Trainer) Fit(ctx context.Context, all []dataset.Example, classes int, model Model, ckpt Checkpointer) (Model, *History, error) {
	opts := t.opts
	if opts.Epochs <= 0 || opts.BatchSize <= 0 {
		return nil, nil, fmt.Errorf("training: epochs and batch size must be positive")
	}
	for i, ex := range all {
		if ex.Label < 0 || ex.Label >= classes {
			return nil, nil, fmt.Errorf("training: example %d has label %d outside %d classes", i, ex.Label, classes)
		}
	}

	trainIdx, valIdx, err := Split(len(all), opts.ValidationSplit, opts.Seed)
	if err != nil {
		return nil, nil, err
	}
	train := gather(all, trainIdx, classes)
	val := gather(all, valIdx, classes)

	hist := &History{TrainExamples: len(trainIdx), ValExamples: len(valIdx)}
	t.log.Info().
		Int("train", hist.TrainExamples).
		Int("validation", hist.ValExamples).
		Int("epochs", opts.Epochs).
		Int("batch_size", opts.BatchSize).
		Msg("training started")

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5bd1e995))
	lr := opts.LearningRate

	bestValAcc := math.Inf(-1)
	plateauBest, plateauWait := math.Inf(1), 0
	stopBest, stopWait := math.Inf(1), 0
	var bestWeights nn.Weights

	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		order := rng.Perm(len(trainIdx))
		var lossSum, accSum float64

		for lo := 0; lo < len(order); lo += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, hist, err
			}
			hi := min(lo+opts.BatchSize, len(order))
			x := make(nn.Seq, hi-lo)
			y := make([][]float64, hi-lo)
			for i, j := range order[lo:hi] {
				x[i], y[i] = train.x[j], train.y[j]
			}

			loss, acc, err := model.TrainBatch(x, y, lr)
			if err != nil {
				return nil, hist, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			lossSum += loss * float64(hi-lo)
			accSum += acc * float64(hi-lo)
		}

		valLoss, valAcc, err := model.Evaluate(val.x, val.y)
		if err != nil {
			return nil, hist, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		n := float64(len(order))
		stats := EpochStats{
			Epoch:        epoch,
			Loss:         lossSum / n,
			Accuracy:     accSum / n,
			ValLoss:      valLoss,
			ValAccuracy:  valAcc,
			LearningRate: lr,
		}
		if math.IsNaN(stats.Loss) || math.IsInf(stats.Loss, 0) || math.IsNaN(valLoss) {
			return nil, hist, fmt.Errorf("epoch %d: %w", epoch, ErrDiverged)
		}

		if valAcc > bestValAcc {
			if err := ckpt.Save(model, epoch, valAcc); err != nil {
				return nil, hist, fmt.Errorf("epoch %d checkpoint: %w", epoch, err)
			}
			t.log.Info().Int("epoch", epoch).
				Float64("previous", bestValAcc).
				Float64("val_accuracy", valAcc).
				Msg("validation accuracy improved, checkpoint saved")
			bestValAcc = valAcc
			hist.BestEpoch = epoch
			hist.BestValAccuracy = valAcc
			stats.Checkpointed = true
		}

		if valLoss < plateauBest-opts.PlateauMinDelta {
			plateauBest, plateauWait = valLoss, 0
		} else {
			plateauWait++
			if plateauWait >= opts.PlateauPatience && lr > opts.MinLearningRate {
				next := math.Max(lr*opts.PlateauFactor, opts.MinLearningRate)
				t.log.Info().Int("epoch", epoch).
					Float64("from", lr).
					Float64("to", next).
					Msg("validation loss plateau, reducing learning rate")
				lr = next
				plateauWait = 0
			}
		}

		hist.Epochs = append(hist.Epochs, stats)
		t.log.Info().
			Int("epoch", epoch).
			Float64("loss", stats.Loss).
			Float64("accuracy", stats.Accuracy).
			Float64("val_loss", valLoss).
			Float64("val_accuracy", valAcc).
			Float64("lr", stats.LearningRate).
			Msg("epoch finished")
		if opts.OnEpoch != nil {
			opts.OnEpoch(stats)
		}

		stopWait++
		if valLoss < stopBest {
			stopBest, stopWait = valLoss, 0
			bestWeights = model.Snapshot()
			continue
		}
		if stopWait >= opts.EarlyStopPatience {
			hist.StoppedEarly = true
			hist.StoppedEpoch = epoch
			t.log.Info().Int("epoch", epoch).Msg("early stopping")
			if bestWeights != nil {
				if err := model.Restore(bestWeights); err != nil {
					return nil, hist, fmt.Errorf("restore best weights: %w", err)
				}
			}
			break
		}
	}

	best, err := ckpt.Load()
	if err != nil {
		return nil, hist, fmt.Errorf("reload checkpoint: %w", err)
	}
	t.log.Info().
		Int("best_epoch", hist.BestEpoch).
		Float64("best_val_accuracy", hist.BestValAccuracy).
		Msg("training finished, best checkpoint reloaded")
	return best, hist, nil
}
