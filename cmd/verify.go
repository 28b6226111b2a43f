package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/flowtree/internal/engine"
)

var verifyFlows string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that explode followed by rebuild reproduces the document",
	Long: `Run the round-trip harness: explode the flows document into a temporary
tree, rebuild it, and compare the result under the canonical
fingerprint. Formatting differences are never reported as inequality.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyFlows, "flows", "", "flows document path (default from config)")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if verifyFlows != "" {
		cfg.Paths.FlowsFile = verifyFlows
	}

	host, err := buildHost(cfg)
	if err != nil {
		return err
	}
	eng := engine.New(host, log)

	doc, err := loadDocument(cfg.Paths.FlowsFile)
	if err != nil {
		return err
	}

	res, err := eng.Verify(cmd.Context(), doc, engineOptions(cfg))
	if err != nil {
		return err
	}
	if res.Equal {
		fmt.Printf("Round-trip equal (%d nodes)\n", len(doc))
		return nil
	}
	return fmt.Errorf("round-trip differs: %s", res.Diff.String())
}
