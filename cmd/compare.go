package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-group/scorecard-cli/internal/aggregate"
)

var compareCmd = &cobra.Command{
	Use:   "compare <scorecard.json>...",
	Short: "Rank previously built country scorecards",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cards := make([]aggregate.Scorecard, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read scorecard %s", path)
			}
			var card aggregate.Scorecard
			if err := json.Unmarshal(data, &card); err != nil {
				return eris.Wrapf(err, "decode scorecard %s", path)
			}
			cards = append(cards, card)
		}

		formatComparison(os.Stdout, aggregate.Compare(cards))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
}

// formatComparison writes a ranked table of scorecards to w.
func formatComparison(out io.Writer, cards []aggregate.Scorecard) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tCOUNTRY\tTOTAL\tCONFIDENCE\tMISSING")
	_, _ = fmt.Fprintln(w, "----\t-------\t-----\t----------\t-------")
	for i, c := range cards {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%.1f\t%.2f\t%d\n",
			i+1, c.Country, c.Total, c.Confidence, len(c.Missing))
	}
	_ = w.Flush()
}
