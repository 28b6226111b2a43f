package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/conneroisu/flowtree/internal/config"
	"github.com/conneroisu/flowtree/internal/engine"
	"github.com/conneroisu/flowtree/internal/flow"
)

// loadDocument reads and parses the flows file.
func loadDocument(path string) (flow.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := flow.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// createBackup copies path to a timestamped sibling before a
// destructive operation.
func createBackup(path string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	dest := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102_150405"))
	dst, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Backup written:", dest)
	return nil
}

// engineOptions maps config onto engine options, with flag overrides
// already applied by the callers.
func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		Workers:        cfg.Explode.Workers,
		DeleteOrphaned: cfg.Explode.DeleteOrphaned,
		Tolerant:       cfg.Explode.Tolerant,
		OrphanNew:      cfg.Explode.OrphanNew,
		DeleteNew:      cfg.Explode.DeleteNew,
	}
}
