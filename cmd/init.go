package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/flowtree/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter .flowtree.yml",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := config.WriteDefault(".flowtree.yml"); err != nil {
			return err
		}
		fmt.Println("Wrote .flowtree.yml")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
