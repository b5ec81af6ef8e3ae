package cmd

import (
	"context"
	"fmt"

	"github.com/sergev/stim/results"
	"github.com/sergev/stim/trial"
	"github.com/spf13/cobra"
)

var (
	recoverJournal string
	recoverOutput  string
)

var recoverCmd = &cobra.Command{
	Use:   "recover PARTICIPANT SESSION",
	Short: "Rewrite a result file from the trial journal",
	Long: "Rebuild the result file of a session from the trial journal, for sessions\n" +
		"whose result file could not be written when they ended.",
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		path, err := recoverSession(cmd.Context(), args[0], args[1])
		if err != nil {
			cobra.CheckErr(err)
		}
		fmt.Printf("Recovered %s\n", path)
	},
}

func recoverSession(ctx context.Context, participant, session string) (string, error) {
	journalPath := recoverJournal
	if journalPath == "" {
		journalPath = conf.Journal
	}
	if journalPath == "" {
		return "", fmt.Errorf("no journal configured; set `journal` in the config or use --journal")
	}
	journal, err := results.OpenJournal(journalPath)
	if err != nil {
		return "", fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	entry, err := journal.Load(ctx, participant, session)
	if err != nil {
		return "", err
	}
	exp, err := conf.Lookup(entry.Experiment)
	if err != nil {
		return "", err
	}
	variant, err := exp.ResultVariant()
	if err != nil {
		return "", err
	}
	plan, err := exp.Plan()
	if err != nil {
		return "", err
	}
	entry.Dataset.Plan = trial.Expand(plan.Trials, plan.Repeats)

	dir := recoverOutput
	if dir == "" {
		dir = conf.OutputDir
	}
	recorder := results.NewRecorder(dir, variant, results.WithRecorderLogger(logger))
	if err := recorder.Check(entry.Dataset.Identity); err != nil {
		return "", err
	}
	path, err := recorder.Write(ctx, entry.Dataset)
	if err != nil {
		return "", err
	}
	if err := journal.Finish(ctx, entry.Dataset.Identity, path); err != nil {
		logger.Warn("failed to mark session finished", "error", err)
	}
	return path, nil
}

func init() {
	recoverCmd.Flags().StringVar(&recoverJournal, "journal", "", "journal database (default from config)")
	recoverCmd.Flags().StringVarP(&recoverOutput, "output", "o", "", "output directory (default from config)")
	rootCmd.AddCommand(recoverCmd)
}
