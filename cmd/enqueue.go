package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
)

var enqueueFile string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue candidate records from a JSON file",
	Long:  "Reads a JSON array of candidate records and submits each one to the work queue.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(enqueueFile)
		if err != nil {
			return eris.Wrap(err, "read candidates file")
		}

		var records []model.CandidateRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return eris.Wrap(err, "parse candidates file")
		}

		q, closeQueue, err := initQueue(ctx)
		if err != nil {
			return err
		}
		defer closeQueue()

		for _, rec := range records {
			if err := q.Enqueue(ctx, rec); err != nil {
				return eris.Wrapf(err, "enqueue %s", rec.PlaceID)
			}
		}

		zap.L().Info("candidates enqueued", zap.Int("count", len(records)))
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueFile, "file", "", "path to JSON array of candidate records (required)")
	_ = enqueueCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(enqueueCmd)
}
