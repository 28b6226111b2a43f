package orchestrator

import (
	"context"
	"fmt"

	"github.com/conneroisu/flowtree/internal/engine"
	flowerrors "github.com/conneroisu/flowtree/internal/errors"
	"github.com/conneroisu/flowtree/internal/flow"
)

// Command is an operator command. Commands run inside the reaction
// mailbox, so they never race with poll or edit reactions.
type Command string

const (
	CmdDownload      Command = "download"
	CmdUpload        Command = "upload"
	CmdCheck         Command = "check"
	CmdStatus        Command = "status"
	CmdPause         Command = "pause"
	CmdResume        Command = "resume"
	CmdReloadPlugins Command = "reload-plugins"
	CmdQuit          Command = "quit"
)

// CommandResult is the reply to an operator command.
type CommandResult struct {
	Status *Status
	Detail string
	Err    error
}

func (o *Orchestrator) reactCommand(ctx context.Context, cmd Command) CommandResult {
	switch cmd {
	case CmdDownload:
		// Clears any pause and forces an unconditional fetch.
		o.resume(ctx)
		o.remote.ClearETag()
		o.reactPoll(ctx, true)
		return CommandResult{Status: o.status(), Detail: "download triggered"}

	case CmdUpload:
		o.resume(ctx)
		o.reactLocalEdit(ctx, false)
		return CommandResult{Status: o.status(), Detail: "upload triggered"}

	case CmdCheck:
		return o.check(ctx)

	case CmdStatus:
		return CommandResult{Status: o.status()}

	case CmdPause:
		o.pause(ctx, PauseOperator)
		return CommandResult{Status: o.status(), Detail: "paused"}

	case CmdResume:
		o.resume(ctx)
		return CommandResult{Status: o.status(), Detail: "resumed"}

	case CmdReloadPlugins:
		if o.hostFactory == nil {
			return CommandResult{Err: flowerrors.NewConfig("no plugin factory configured")}
		}
		host, err := o.hostFactory()
		if err != nil {
			return CommandResult{Err: err}
		}
		// Swapped between reactions; the host is immutable during one.
		o.eng = engine.New(host, o.log)
		return CommandResult{Status: o.status(), Detail: "plugins reloaded"}

	case CmdQuit:
		o.quitOnce.Do(func() { close(o.quit) })
		return CommandResult{Detail: "shutting down"}

	default:
		return CommandResult{Err: flowerrors.NewConfig(fmt.Sprintf("unknown command %q", cmd))}
	}
}

// check rebuilds without pushing and compares against the last fetched
// document.
func (o *Orchestrator) check(ctx context.Context) CommandResult {
	res, err := o.eng.Rebuild(ctx, o.cfg.TreeRoot, "", rebuildOptions(o.cfg.EngineOptions, false))
	if err != nil {
		return CommandResult{Err: err}
	}
	if o.lastFetched == nil {
		return CommandResult{Status: o.status(), Detail: "no fetched document to compare against"}
	}
	if flow.Equal(res.Document, o.lastFetched) {
		return CommandResult{Status: o.status(), Detail: "in sync"}
	}
	return CommandResult{Status: o.status(), Detail: "local tree differs from last fetched document"}
}
