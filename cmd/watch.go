package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/flowtree/internal/client"
	"github.com/conneroisu/flowtree/internal/config"
	"github.com/conneroisu/flowtree/internal/engine"
	"github.com/conneroisu/flowtree/internal/orchestrator"
	"github.com/conneroisu/flowtree/internal/plugins"
)

var (
	watchURL      string
	watchPoll     time.Duration
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the source tree and the remote server in continuous sync",
	Long: `Run the bidirectional watch loop: remote changes are fetched and
exploded into the tree, local edits are debounced, rebuilt, and pushed
under the server's optimistic-concurrency revision. Conflicts and
oscillation pause the loop until an operator command resumes it.

Interactive commands: d(ownload), u(pload), c(heck), s(tatus), p(ause),
r(esume), reload-plugins, q(uit), ? for help.`,
	RunE: runWatchCmd,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchURL, "url", "", "server base URL (default from config)")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", 0, "remote poll interval (default from config)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "local edit debounce window (default from config)")
}

func runWatchCmd(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if watchURL != "" {
		cfg.Server.URL = watchURL
	}
	if watchPoll > 0 {
		cfg.Watch.PollInterval = watchPoll
	}
	if watchDebounce > 0 {
		cfg.Watch.Debounce = watchDebounce
	}
	if cfg.Server.URL == "" {
		return fmt.Errorf("watch requires server.url (or --url)")
	}

	host, err := buildHost(cfg)
	if err != nil {
		return err
	}

	remote := client.New(cfg.Server.URL, cfg.Credential(), client.Options{
		Timeout:            cfg.Server.Timeout,
		InsecureSkipVerify: cfg.Server.InsecureSkipVerify,
	}, log)

	hostFactory := func() (*plugins.Host, error) { return buildHost(cfg) }

	orch := orchestrator.New(orchestrator.Config{
		TreeRoot:           cfg.Paths.SrcDir,
		DocPath:            cfg.Paths.FlowsFile,
		PollInterval:       cfg.Watch.PollInterval,
		Debounce:           cfg.Watch.Debounce,
		ConvergenceLimit:   cfg.Watch.ConvergenceLimit,
		ConvergenceWindow:  cfg.Watch.ConvergenceWindow,
		MaxRebuildFailures: cfg.Watch.MaxRebuildFailures,
		EnableComms:        cfg.Watch.EnableComms,
		EngineOptions:      engineOptions(cfg),
	}, engine.New(host, log), remote, cfg.Credential(), hostFactory, log)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go commandREPL(ctx, orch, cfg)

	fmt.Fprintf(os.Stderr, "Watching %s against %s (type ? for commands)\n", cfg.Paths.SrcDir, cfg.Server.URL)
	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Watch mode shutdown complete")
	return nil
}

// commandREPL reads operator commands from stdin. Single-character
// shortcuts mirror the long names.
func commandREPL(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(strings.ToLower(scanner.Text()))
		if line == "" {
			continue
		}

		var cmd orchestrator.Command
		switch line {
		case "?", "h", "help":
			fmt.Println(`Available commands:
  d, download        Download latest flows from the server
  u, upload          Upload local changes to the server
  c, check           Compare the tree against the last fetched document
  s, status          Show sync status
  p, pause           Pause the loop
  r, resume          Resume the loop
  reload-plugins     Rebuild the plugin host
  q, quit            Quit watch mode`)
			continue
		case "d", "download":
			cmd = orchestrator.CmdDownload
		case "u", "upload":
			cmd = orchestrator.CmdUpload
		case "c", "check":
			cmd = orchestrator.CmdCheck
		case "s", "status":
			cmd = orchestrator.CmdStatus
		case "p", "pause":
			cmd = orchestrator.CmdPause
		case "r", "resume":
			cmd = orchestrator.CmdResume
		case "reload-plugins", "reload":
			cmd = orchestrator.CmdReloadPlugins
		case "q", "quit", "exit":
			cmd = orchestrator.CmdQuit
		default:
			fmt.Printf("Unknown command: %s\n", line)
			continue
		}

		res := orch.Command(ctx, cmd)
		if res.Err != nil {
			fmt.Printf("Error: %v\n", res.Err)
			continue
		}
		if res.Detail != "" {
			fmt.Println(res.Detail)
		}
		if cmd == orchestrator.CmdStatus && res.Status != nil {
			printStatus(res.Status, cfg)
		}
		if cmd == orchestrator.CmdQuit {
			return
		}
	}
}

func printStatus(s *orchestrator.Status, cfg *config.Config) {
	fmt.Println("=== Watch Mode Status ===")
	fmt.Printf("Server:    %s\n", cfg.Server.URL)
	if s.Paused {
		fmt.Printf("State:     paused (%s)\n", s.PauseReason)
	} else {
		fmt.Println("State:     running")
	}
	etag := s.ETag
	if etag == "" {
		etag = "(none)"
	}
	rev := s.Revision
	if rev == "" {
		rev = "(none)"
	}
	fmt.Printf("ETag:      %s\nRevision:  %s\n", etag, rev)
	fmt.Printf("Downloads: %d\nUploads:   %d\nErrors:    %d\n", s.Downloads, s.Uploads, s.Errors)
	if !s.LastDownload.IsZero() {
		fmt.Printf("Last download: %ds ago\n", int(time.Since(s.LastDownload).Seconds()))
	}
	if !s.LastUpload.IsZero() {
		fmt.Printf("Last upload:   %ds ago\n", int(time.Since(s.LastUpload).Seconds()))
	}
	fmt.Printf("Plugins:   %s\n", strings.Join(s.Plugins, ", "))
}
