package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gonuts/commander"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/metrics"
	"github.com/ayusman/mudra/internal/sequence"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
)

func serveCmd() *commander.Command {
	cmd := &commander.Command{
		Run:       runServe,
		UsageLine: "serve [options]",
		Short:     "serve the quiz API",
		Long: `
serve loads the classifier and starts the HTTP API.

	$ mudra serve -config mudra.yaml

When the model cannot be loaded the server still starts; recognition
requests then fail with "Model not initialized".
`,
		Flag: *newFlagSet("mudra-serve"),
	}
	cmd.Flag.String("addr", "", "overrides server.addr")
	return cmd
}

func runServe(cmd *commander.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	if addr := stringFlag(cmd, "addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	vocab, err := cfg.Vocabulary()
	if err != nil {
		return err
	}

	m := metrics.New()
	svcConfig := app.Config{
		Vocabulary: vocab,
		Workers:    cfg.Recognize.Workers,
		Metrics:    m,
	}

	det, err := newDetector(cfg)
	if err != nil {
		log.Error().Err(err).Msg("landmark detector unavailable")
	} else {
		svcConfig.Detector = det
	}

	pred, sc, err := loadModel(cfg, vocab)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Model.Path).Msg("model not loaded")
	} else {
		svcConfig.Predictor = pred
		svcConfig.Scaler = sc
		log.Info().Str("path", cfg.Model.Path).Bool("scaled", sc != nil).Msg("model loaded")
	}

	svc := app.New(svcConfig)
	defer svc.Close()

	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := server.New(server.Config{
		StaticDir:    cfg.Server.StaticDir,
		Store:        st,
		Service:      svc,
		Metrics:      m,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", cfg.Server.Addr).
		Bool("model_ready", svc.Ready()).
		Strs("classes", vocab.Names()).
		Msg("starting server")
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

func newDetector(cfg *config.Config) (*detector.MediaPipeDetector, error) {
	dc := detector.DefaultConfig()
	dc.ScriptPath = cfg.Detector.Script
	dc.PythonPath = cfg.Detector.Python
	dc.MaxHands = cfg.Detector.MaxHands
	dc.MinConfidence = cfg.Detector.MinConfidence
	dc.IdleTimeout = 5 * time.Minute
	return detector.NewMediaPipeDetector(dc)
}

// loadModel loads the configured predictor and its feature scaler. The scaler
// is nil when features are served unscaled.
func loadModel(cfg *config.Config, vocab gesture.Vocabulary) (classifier.Predictor, *sequence.Scaler, error) {
	if cfg.Model.Backend == config.BackendONNX {
		sc, err := sequence.LoadOptionalScaler(cfg.ScalerPath())
		if err != nil {
			return nil, nil, err
		}
		pred, err := classifier.NewONNXPredictor(cfg.Model.Path, cfg.Model.ONNXMetadata, cfg.Model.ONNXLibrary, vocab)
		if err != nil {
			return nil, nil, err
		}
		return pred, sc, nil
	}

	pred, sc, err := classifier.LoadModel(cfg.Model.Path, cfg.ScalerPath(), vocab)
	if err != nil {
		return nil, nil, err
	}
	return pred, sc, nil
}

func openStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
