package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/gonuts/commander"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/dataset"
)

func recordCmd() *commander.Command {
	cmd := &commander.Command{
		Run:       runRecord,
		UsageLine: "record -class <class> -frames <dir> [options]",
		Short:     "store a performance as a training sequence",
		Long: `
record runs landmark detection over the still images in a directory, taken
in order from one performance, and stores the result as the next
data.dir/<class>/seq_<n>.npy.

	$ mudra record -class three -frames captures/three-01
`,
		Flag: *newFlagSet("mudra-record"),
	}
	cmd.Flag.String("class", "", "class the performance shows (required)")
	cmd.Flag.String("frames", "", "directory of frame images (required)")
	cmd.Flag.String("data", "", "overrides data.dir")
	return cmd
}

func runRecord(cmd *commander.Command, args []string) error {
	class, frames := stringFlag(cmd, "class"), stringFlag(cmd, "frames")
	if class == "" || frames == "" {
		cmd.Usage()
		return errors.New("record: -class and -frames are required")
	}

	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	if v := stringFlag(cmd, "data"); v != "" {
		cfg.Data.Dir = v
	}

	vocab, err := cfg.Vocabulary()
	if err != nil {
		return err
	}
	idx, ok := vocab.Index(class)
	if !ok {
		return fmt.Errorf("record: %q is not one of %v", class, vocab.Names())
	}
	class = vocab.Name(idx)

	src, err := capture.NewImageDirSource(frames)
	if err != nil {
		return err
	}

	det, err := newDetector(cfg)
	if err != nil {
		return err
	}
	defer det.Close()

	rec := dataset.NewRecorder(det)
	rec.MinHandRatio = cfg.Record.MinHandRatio
	rec.MaxFrames = cfg.Record.MaxFrames

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := rec.Record(ctx, src)
	if err != nil {
		if res != nil {
			log.Warn().
				Int("frames_read", res.FramesRead).
				Int("frames_with_hand", res.FramesWithHand).
				Int("bad_frames", res.BadFrames).
				Msg("performance rejected")
		}
		return err
	}

	path, err := dataset.NextSequencePath(cfg.Data.Dir, class)
	if err != nil {
		return err
	}
	if err := dataset.WriteSequence(path, res.Sequence); err != nil {
		return err
	}

	log.Info().
		Str("class", class).
		Str("path", path).
		Int("frames_read", res.FramesRead).
		Int("frames_with_hand", res.FramesWithHand).
		Msg("sequence saved")
	return nil
}
