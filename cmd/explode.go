package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/flowtree/internal/engine"
)

var (
	explodeFlows          string
	explodeSrc            string
	explodeDeleteOrphaned bool
	explodeBackup         bool
	explodeDryRun         bool
)

var explodeCmd = &cobra.Command{
	Use:   "explode",
	Short: "Decompose the flows document into a per-node source tree",
	Long: `Decompose the flows document into one directory per container with one
set of files per node, plus the hidden structural skeleton. Pre-explode
plugins may rewrite the document first; post-explode plugins format the
resulting tree.`,
	RunE: runExplode,
}

func init() {
	rootCmd.AddCommand(explodeCmd)

	explodeCmd.Flags().StringVar(&explodeFlows, "flows", "", "flows document path (default from config)")
	explodeCmd.Flags().StringVar(&explodeSrc, "src", "", "target tree root (default from config)")
	explodeCmd.Flags().BoolVar(&explodeDeleteOrphaned, "delete-orphaned", false, "delete orphaned files instead of quarantining")
	explodeCmd.Flags().BoolVar(&explodeBackup, "backup", false, "write a timestamped backup of the flows file first")
	explodeCmd.Flags().BoolVar(&explodeDryRun, "dry-run", false, "explode into a temporary tree and report only")
}

func runExplode(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if explodeFlows != "" {
		cfg.Paths.FlowsFile = explodeFlows
	}
	if explodeSrc != "" {
		cfg.Paths.SrcDir = explodeSrc
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

	if explodeBackup && !explodeDryRun {
		if err := createBackup(cfg.Paths.FlowsFile); err != nil {
			return err
		}
	}

	opts := engineOptions(cfg)
	if explodeDeleteOrphaned {
		opts.DeleteOrphaned = true
	}

	treeRoot := cfg.Paths.SrcDir
	docPath := cfg.Paths.FlowsFile
	if explodeDryRun {
		tmp, err := os.MkdirTemp("", "flowtree-dryrun-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		treeRoot = tmp
		docPath = ""
	}

	res, err := eng.Explode(cmd.Context(), doc, treeRoot, docPath, opts)
	if err != nil {
		return err
	}

	if explodeDryRun {
		fmt.Printf("Dry run: would explode %d nodes to %s/\n", res.Nodes, cfg.Paths.SrcDir)
	} else {
		fmt.Printf("Exploded %d nodes to %s/\n", res.Nodes, treeRoot)
	}
	if len(res.UnstableNodes) > 0 {
		fmt.Printf("Unstable nodes (content does not round-trip yet): %v\n", res.UnstableNodes)
	}
	if len(res.Orphaned) > 0 {
		fmt.Printf("Orphaned files handled: %d\n", len(res.Orphaned))
	}
	return nil
}
