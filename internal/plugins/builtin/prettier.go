package builtin

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/flowtree/internal/plugins"
)

// subprocessTimeout bounds a single formatter invocation.
const subprocessTimeout = 5 * time.Minute

// Formatter invokes the external code formatter as an opaque
// subprocess. A non-zero exit is reported as an error; callers treat it
// as an isolated plugin failure, never as a data-integrity problem.
type Formatter struct {
	// Command is the formatter argv prefix, e.g. ["prettier", "--write"].
	Command []string
}

// DefaultFormatter returns the prettier-based formatter.
func DefaultFormatter() *Formatter {
	return &Formatter{Command: []string{"prettier", "--write"}}
}

// Format runs the formatter over the given files and reports whether
// any of them changed, decided by content hash so formatter chattiness
// on stdout never matters.
func (f *Formatter) Format(ctx context.Context, paths []string) (bool, error) {
	if len(f.Command) == 0 || len(paths) == 0 {
		return false, nil
	}

	before := hashFiles(paths)

	ctx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()

	args := append(append([]string{}, f.Command[1:]...), paths...)
	cmd := exec.CommandContext(ctx, f.Command[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("formatter %q failed: %w: %s", f.Command[0], err, strings.TrimSpace(string(out)))
	}

	after := hashFiles(paths)
	for path, sum := range after {
		if before[path] != sum {
			return true, nil
		}
	}
	return false, nil
}

func hashFiles(paths []string) map[string]string {
	sums := make(map[string]string, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		sums[path] = fmt.Sprintf("%x", sha256.Sum256(data))
	}
	return sums
}

// formattableFiles walks the tree collecting every regular file the
// formatter should touch, skipping the skeleton, hidden files, and the
// quarantine directory.
func formattableFiles(treeRoot string) []string {
	var out []string
	filepath.WalkDir(treeRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".orphaned" || (strings.HasPrefix(name, ".") && path != treeRoot) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		out = append(out, path)
		return nil
	})
	return out
}

// PrettierExplode formats the exploded tree and the document after
// explode. JSON-only changes do not report as modifications, since
// reformatting JSON must not trigger a re-upload.
type PrettierExplode struct {
	plugins.Base
	formatter *Formatter
}

// NewPrettierExplode returns the prettier-explode post-explode plugin.
func NewPrettierExplode(f *Formatter) *PrettierExplode {
	return &PrettierExplode{
		Base: plugins.Base{
			PluginName:     "prettier-explode",
			PluginStage:    plugins.StagePostExplode,
			PluginPriority: 300,
		},
		formatter: f,
	}
}

// ProcessTree implements plugins.PostExplodePlugin.
func (p *PrettierExplode) ProcessTree(ctx context.Context, treeRoot, docPath string) (bool, error) {
	files := formattableFiles(treeRoot)
	if docPath != "" {
		files = append(files, docPath)
	}

	var code, json []string
	for _, f := range files {
		if filepath.Ext(f) == ".json" {
			json = append(json, f)
		} else {
			code = append(code, f)
		}
	}

	if _, err := p.formatter.Format(ctx, json); err != nil {
		return false, err
	}
	return p.formatter.Format(ctx, code)
}

// PrettierPreRebuild formats source files before they are read back, so
// hand-edited files parse the same way formatter-written ones do. The
// pass is redundant right after an explode and skips itself then.
type PrettierPreRebuild struct {
	plugins.Base
	formatter *Formatter
}

// NewPrettierPreRebuild returns the prettier pre-rebuild plugin.
func NewPrettierPreRebuild(f *Formatter) *PrettierPreRebuild {
	return &PrettierPreRebuild{
		Base: plugins.Base{
			PluginName:     "prettier-pre-rebuild",
			PluginStage:    plugins.StagePreRebuild,
			PluginPriority: 400,
		},
		formatter: f,
	}
}

// PrepareTree implements plugins.PreRebuildPlugin.
func (p *PrettierPreRebuild) PrepareTree(ctx context.Context, treeRoot string, continuedFromExplode bool) error {
	if continuedFromExplode {
		return nil
	}
	_, err := p.formatter.Format(ctx, formattableFiles(treeRoot))
	return err
}

// PrettierPostRebuild formats the reconstructed document file.
type PrettierPostRebuild struct {
	plugins.Base
	formatter *Formatter
}

// NewPrettierPostRebuild returns the prettier post-rebuild plugin.
func NewPrettierPostRebuild(f *Formatter) *PrettierPostRebuild {
	return &PrettierPostRebuild{
		Base: plugins.Base{
			PluginName:     "prettier-post-rebuild",
			PluginStage:    plugins.StagePostRebuild,
			PluginPriority: 500,
		},
		formatter: f,
	}
}

// ProcessDocument implements plugins.PostRebuildPlugin.
func (p *PrettierPostRebuild) ProcessDocument(ctx context.Context, docPath string) (bool, error) {
	return p.formatter.Format(ctx, []string{docPath})
}
