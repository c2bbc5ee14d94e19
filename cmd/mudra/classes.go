package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/gonuts/commander"

	"github.com/ayusman/mudra/internal/classifier"
)

func classesCmd() *commander.Command {
	cmd := &commander.Command{
		Run:       runClasses,
		UsageLine: "classes [options]",
		Short:     "list the configured classes",
		Long: `
classes prints the configured vocabulary with the quiz prompt of each class.
With -check it also verifies the artifact at model.path was trained for it.

	$ mudra classes -check
`,
		Flag: *newFlagSet("mudra-classes"),
	}
	cmd.Flag.Bool("check", false, "verify the model artifact vocabulary")
	return cmd
}

func runClasses(cmd *commander.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	vocab, err := cfg.Vocabulary()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tCLASS\tPROMPT")
	for i, q := range vocab.Questions() {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i, q.Answer, q.Prompt)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !cmd.Flag.Lookup("check").Value.Get().(bool) {
		return nil
	}
	a, err := classifier.LoadArtifact(cfg.Model.Path)
	if err != nil {
		return err
	}
	if err := a.CheckVocabulary(vocab); err != nil {
		return err
	}
	fmt.Printf("%s matches (epoch %d, val accuracy %.3f)\n", cfg.Model.Path, a.Epoch, a.ValAccuracy)
	return nil
}
