package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-group/scorecard-cli/internal/extract"
	"github.com/meridian-group/scorecard-cli/internal/model"
)

var (
	extractParameter string
	extractCountry   string
	extractDocs      []string
	extractModel     string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract one scored parameter for a country",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		param, ok := env.Registry.Get(extractParameter)
		if !ok {
			return eris.Errorf("unknown parameter %q", extractParameter)
		}

		docs, err := loadDocuments(extractDocs)
		if err != nil {
			return err
		}

		result := env.Orchestrator.Extract(ctx, extract.Request{
			ParameterID:   param.ID,
			Country:       extractCountry,
			Documents:     docs,
			ModelOverride: extractModel,
			Builder:       param.Builder(),
			Parser:        param.Parser(),
			Validator:     param.Validator(),
		})

		zap.L().Info("extraction finished",
			zap.String("parameter", param.ID),
			zap.String("country", extractCountry),
			zap.Bool("success", result.Success),
			zap.Bool("cached", result.Cached),
			zap.Float64("duration_ms", result.DurationMS),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return eris.Wrap(err, "encode result")
		}
		if !result.Success {
			return eris.New(result.Error)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractParameter, "parameter", "", "parameter ID from the registry (required)")
	extractCmd.Flags().StringVar(&extractCountry, "country", "", "country name (required)")
	extractCmd.Flags().StringSliceVar(&extractDocs, "doc", nil, "source document file (repeatable, required)")
	extractCmd.Flags().StringVar(&extractModel, "model", "", "override the primary model for this extraction")
	_ = extractCmd.MarkFlagRequired("parameter")
	_ = extractCmd.MarkFlagRequired("country")
	_ = extractCmd.MarkFlagRequired("doc")
	rootCmd.AddCommand(extractCmd)
}

// loadDocuments reads each path into a Document with the file name as its
// source label.
func loadDocuments(paths []string) ([]model.Document, error) {
	if len(paths) == 0 {
		return nil, eris.New("at least one --doc is required")
	}
	docs := make([]model.Document, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read document %s", path)
		}
		name := filepath.Base(path)
		docs = append(docs, model.Document{
			Content: string(content),
			Metadata: model.DocumentMetadata{
				Source: name,
				Title:  strings.TrimSuffix(name, filepath.Ext(name)),
				Type:   strings.TrimPrefix(filepath.Ext(name), "."),
			},
		})
	}
	return docs, nil
}
