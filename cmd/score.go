package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-group/scorecard-cli/internal/aggregate"
	"github.com/meridian-group/scorecard-cli/internal/extract"
	"github.com/meridian-group/scorecard-cli/internal/model"
	"github.com/meridian-group/scorecard-cli/internal/params"
)

var (
	scoreCountry string
	scoreDocs    []string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Build a full scorecard for a country",
	Long:  "Runs every registry parameter against the given documents concurrently and rolls the results up into a weighted scorecard.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := loadDocuments(scoreDocs)
		if err != nil {
			return err
		}

		scores, err := scoreCountryParams(ctx, env, scoreCountry, docs, cfg.Batch.MaxConcurrentParams)
		if err != nil {
			return err
		}

		card := aggregate.Build(scoreCountry, env.Registry, scores)

		snap := env.Stats.Snapshot()
		zap.L().Info("scorecard complete",
			zap.String("country", card.Country),
			zap.Float64("total", card.Total),
			zap.Float64("confidence", card.Confidence),
			zap.Int("missing", len(card.Missing)),
			zap.Float64("cost_usd", snap.CostUSD),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(card)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreCountry, "country", "", "country name (required)")
	scoreCmd.Flags().StringSliceVar(&scoreDocs, "doc", nil, "source document file (repeatable, required)")
	_ = scoreCmd.MarkFlagRequired("country")
	_ = scoreCmd.MarkFlagRequired("doc")
	rootCmd.AddCommand(scoreCmd)
}

// scoreCountryParams extracts every registry parameter concurrently. A failed
// parameter is logged and left out of the rollup; it never aborts the batch.
func scoreCountryParams(ctx context.Context, env *pipelineEnv, country string, docs []model.Document, concurrency int) ([]aggregate.ParameterScore, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	var scores []aggregate.ParameterScore

	for _, param := range env.Registry.All() {
		g.Go(func() error {
			result := env.Orchestrator.Extract(gctx, extractRequest(param, country, docs))
			if !result.Success {
				zap.L().Warn("parameter extraction failed",
					zap.String("parameter", param.ID),
					zap.String("country", country),
					zap.String("error", result.Error),
				)
				return nil
			}

			mu.Lock()
			scores = append(scores, aggregate.ParameterScore{ParameterID: param.ID, Data: result.Data})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "score batch")
	}
	return scores, nil
}

func extractRequest(param params.Parameter, country string, docs []model.Document) extract.Request {
	return extract.Request{
		ParameterID: param.ID,
		Country:     country,
		Documents:   docs,
		Builder:     param.Builder(),
		Parser:      param.Parser(),
		Validator:   param.Validator(),
	}
}
