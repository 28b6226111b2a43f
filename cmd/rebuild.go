package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/flowtree/internal/engine"
	"github.com/conneroisu/flowtree/internal/flow"
)

var (
	rebuildFlows     string
	rebuildSrc       string
	rebuildOrphanNew bool
	rebuildDeleteNew bool
	rebuildTolerant  bool
	rebuildBackup    bool
	rebuildDryRun    bool
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Reconstruct the flows document from the source tree",
	Long: `Reconstruct the flows document from the source tree: the skeleton
restores structure, wiring, and sibling order; per-node files restore
content. Files without a skeleton entry become new nodes, are
quarantined, or deleted depending on flags.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)

	rebuildCmd.Flags().StringVar(&rebuildFlows, "flows", "", "flows document path (default from config)")
	rebuildCmd.Flags().StringVar(&rebuildSrc, "src", "", "source tree root (default from config)")
	rebuildCmd.Flags().BoolVar(&rebuildOrphanNew, "orphan-new", false, "quarantine files that have no skeleton entry")
	rebuildCmd.Flags().BoolVar(&rebuildDeleteNew, "delete-new", false, "delete files that have no skeleton entry")
	rebuildCmd.Flags().BoolVar(&rebuildTolerant, "tolerant", false, "drop skeleton entries whose files are missing instead of failing")
	rebuildCmd.Flags().BoolVar(&rebuildBackup, "backup", false, "write a timestamped backup of the flows file first")
	rebuildCmd.Flags().BoolVar(&rebuildDryRun, "dry-run", false, "rebuild to a temporary file and report the outcome only")
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if rebuildFlows != "" {
		cfg.Paths.FlowsFile = rebuildFlows
	}
	if rebuildSrc != "" {
		cfg.Paths.SrcDir = rebuildSrc
	}

	host, err := buildHost(cfg)
	if err != nil {
		return err
	}
	eng := engine.New(host, log)

	if rebuildBackup && !rebuildDryRun {
		if err := createBackup(cfg.Paths.FlowsFile); err != nil {
			return err
		}
	}

	opts := engineOptions(cfg)
	if rebuildOrphanNew {
		opts.OrphanNew = true
	}
	if rebuildDeleteNew {
		opts.DeleteNew = true
	}
	if rebuildTolerant {
		opts.Tolerant = true
	}

	docPath := cfg.Paths.FlowsFile
	if rebuildDryRun {
		tmp, err := os.MkdirTemp("", "flowtree-dryrun-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		docPath = filepath.Join(tmp, filepath.Base(cfg.Paths.FlowsFile))
	}

	res, err := eng.Rebuild(cmd.Context(), cfg.Paths.SrcDir, docPath, opts)
	if err != nil {
		return err
	}

	if rebuildDryRun {
		current, lerr := loadDocument(cfg.Paths.FlowsFile)
		switch {
		case lerr != nil:
			fmt.Printf("Dry run: would write %d nodes to %s\n", res.Nodes, cfg.Paths.FlowsFile)
		case flow.Equal(current, res.Document):
			fmt.Println("Dry run: no changes")
		default:
			fmt.Printf("Dry run: %s would change (%d nodes)\n", cfg.Paths.FlowsFile, res.Nodes)
		}
	} else {
		fmt.Printf("Rebuilt %d nodes to %s\n", res.Nodes, docPath)
	}
	if len(res.NewNodes) > 0 {
		fmt.Printf("Incorporated new nodes: %v\n", res.NewNodes)
	}
	if len(res.Dropped) > 0 {
		fmt.Printf("Dropped (files missing): %v\n", res.Dropped)
	}
	if len(res.Quarantined) > 0 {
		fmt.Printf("Quarantined: %v\n", res.Quarantined)
	}
	return nil
}
