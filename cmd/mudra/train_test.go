package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/fixtures"
	"github.com/ayusman/mudra/internal/sequence"
)

func TestTrainThenServeAppliesScaler(t *testing.T) {
	if testing.Short() {
		t.Skip("trains a network")
	}

	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	for fingers, class := range map[int]string{1: "one", 2: "two"} {
		if err := os.MkdirAll(filepath.Join(dataDir, class), 0o755); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			seq := fixtures.Performance(fingers, 10)
			for f := range seq {
				for j := range seq[f] {
					seq[f][j].X += 0.01 * float64(i+f)
				}
			}
			path := filepath.Join(dataDir, class, fmt.Sprintf("%d%s", i, dataset.ExtNPY))
			if err := dataset.WriteSequence(path, seq); err != nil {
				t.Fatal(err)
			}
		}
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Classes = []string{"one", "two"}
	cfg.Data.Dir = dataDir
	cfg.Model.Path = filepath.Join(dir, "models", "model.json.gz")
	cfg.Train.Epochs = 2
	cfg.Train.BatchSize = 2
	cfg.Train.FitScaler = true

	st, err := openStore(filepath.Join(dir, "mudra.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := train(context.Background(), cfg, st); err != nil {
		t.Fatalf("train: %v", err)
	}

	a, err := classifier.LoadArtifact(cfg.Model.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Scaled {
		t.Error("artifact trained with a fitted scaler should be marked scaled")
	}

	saved, err := sequence.LoadScaler(filepath.Join(dir, "models", config.DefaultScalerFile))
	if err != nil {
		t.Fatalf("scaler not saved next to the model: %v", err)
	}

	vocab, err := cfg.Vocabulary()
	if err != nil {
		t.Fatal(err)
	}
	pred, sc, err := loadModel(cfg, vocab)
	if err != nil {
		t.Fatalf("loadModel: %v", err)
	}
	if pred == nil {
		t.Fatal("no predictor loaded")
	}
	if sc == nil || *sc != *saved {
		t.Error("served scaler differs from the one fitted in training")
	}

	t.Run("missing scaler", func(t *testing.T) {
		if err := os.Remove(cfg.ScalerPath()); err != nil {
			t.Fatal(err)
		}
		if _, _, err := loadModel(cfg, vocab); !errors.Is(err, classifier.ErrScalerMismatch) {
			t.Errorf("expected ErrScalerMismatch, got %v", err)
		}
	})
}
