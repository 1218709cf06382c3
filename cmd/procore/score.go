package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chaviprom/procore/internal/score"
	"github.com/chaviprom/procore/internal/store"
)

// scoreCmd recomputes scores for a single submission, useful after a scale
// definition changes or a scoring bug is fixed.
func scoreCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "score <submission-id>",
		Short: "Recompute construct and composite scores for a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			submissionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid submission id: %w", err)
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log)

			db, err := openDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			st := store.NewPostgres(db, cfg.Database.QueryTimeout.Std())
			scores := score.NewPostgresRepo(db, cfg.Database.QueryTimeout.Std())
			computer := score.NewComputer(st, scores, log)

			res, err := computer.ComputeSubmission(cmd.Context(), submissionID)
			if err != nil {
				return fmt.Errorf("compute submission: %w", err)
			}
			for _, c := range res.Constructs {
				printScore(cmd, "construct", c.ConstructID, c.Score)
			}
			for _, c := range res.Composites {
				printScore(cmd, "composite", c.CompositeID, c.Score)
			}
			return nil
		},
	}
}

func printScore(cmd *cobra.Command, kind string, id uuid.UUID, score *float64) {
	if score != nil {
		cmd.Printf("%s %s = %g\n", kind, id, *score)
	} else {
		cmd.Printf("%s %s = null\n", kind, id)
	}
}
