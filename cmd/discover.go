package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/places"
)

var (
	discoverQuery    string
	discoverMaxPages int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Search the places provider and enqueue candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Places.APIKey == "" {
			return eris.New("places API key is required (PROSPECTOR_PLACES_API_KEY)")
		}

		q, closeQueue, err := initQueue(ctx)
		if err != nil {
			return err
		}
		defer closeQueue()

		client := places.NewClient(cfg.Places.APIKey, places.WithBaseURL(cfg.Places.BaseURL))

		enqueued := 0
		pageToken := ""
		for page := 0; page < discoverMaxPages; page++ {
			resp, err := client.SearchText(ctx, places.SearchTextRequest{
				TextQuery: discoverQuery,
				PageToken: pageToken,
			})
			if err != nil {
				return eris.Wrap(err, "places search")
			}

			for _, place := range resp.Places {
				if err := q.Enqueue(ctx, candidateFromPlace(place)); err != nil {
					return eris.Wrap(err, "enqueue candidate")
				}
				enqueued++
			}

			pageToken = resp.NextPageToken
			if pageToken == "" {
				break
			}
		}

		zap.L().Info("discovery complete",
			zap.String("query", discoverQuery),
			zap.Int("enqueued", enqueued),
		)
		return nil
	},
}

// candidateFromPlace maps a provider place to a candidate record. The
// provider's websiteUri is the domain attestation the resolver later checks
// claimed websites against.
func candidateFromPlace(p places.Place) model.CandidateRecord {
	phone := p.NationalPhoneNumber
	if phone == "" {
		phone = p.InternationalPhoneNumber
	}

	rec := model.CandidateRecord{
		PlaceID:        p.ID,
		Name:           p.DisplayName.Text,
		Address:        p.FormattedAddress,
		Phone:          phone,
		ClaimedWebsite: p.WebsiteURI,
		Raw:            p.Raw,
	}
	if p.WebsiteURI != "" {
		rec.Evidence = []string{p.WebsiteURI}
	}
	return rec
}

func init() {
	discoverCmd.Flags().StringVar(&discoverQuery, "query", "", "text search query (required)")
	discoverCmd.Flags().IntVar(&discoverMaxPages, "max-pages", 3, "max result pages to fetch")
	_ = discoverCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(discoverCmd)
}
