// Package orchestrator runs the bidirectional watch loop. Two
// asynchronous change sources — a polled remote endpoint and the local
// filesystem — are reconciled through a single serial mailbox: the
// poller and the watcher only enqueue events, reactions execute one at
// a time and are the only writers of shared state.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/flowtree/internal/client"
	"github.com/conneroisu/flowtree/internal/engine"
	flowerrors "github.com/conneroisu/flowtree/internal/errors"
	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/logging"
	"github.com/conneroisu/flowtree/internal/plugins"
	"github.com/conneroisu/flowtree/internal/watcher"
)

// Defaults for the watch loop.
const (
	DefaultPollInterval       = time.Second
	DefaultConvergenceLimit   = 5
	DefaultConvergenceWindow  = time.Minute
	DefaultMaxRebuildFailures = 5
	maxErrorStreak            = 5
)

// Config wires an orchestrator.
type Config struct {
	TreeRoot string
	DocPath  string

	PollInterval time.Duration
	Debounce     time.Duration

	// More than ConvergenceLimit pushes inside ConvergenceWindow trip
	// the oscillation brake.
	ConvergenceLimit   int
	ConvergenceWindow  time.Duration
	MaxRebuildFailures int

	// EnableComms connects the websocket notifier that nudges the
	// poller on runtime events.
	EnableComms bool

	EngineOptions engine.Options
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = watcher.DefaultDebounce
	}
	if c.ConvergenceLimit <= 0 {
		c.ConvergenceLimit = DefaultConvergenceLimit
	}
	if c.ConvergenceWindow <= 0 {
		c.ConvergenceWindow = DefaultConvergenceWindow
	}
	if c.MaxRebuildFailures <= 0 {
		c.MaxRebuildFailures = DefaultMaxRebuildFailures
	}
}

// PauseReason says why the loop is paused.
type PauseReason string

const (
	PauseNone        PauseReason = ""
	PauseConflict    PauseReason = "conflict"
	PauseOscillation PauseReason = "oscillation"
	PauseErrorCap    PauseReason = "error-cap"
	PauseOperator    PauseReason = "operator"
)

type eventKind int

const (
	evPoll eventKind = iota
	evLocalEdit
	evCommand
)

type event struct {
	kind eventKind

	// poll
	force bool

	// local edit
	synthetic bool

	// command
	cmd   Command
	reply chan CommandResult
}

// Status is a read-only snapshot of the loop.
type Status struct {
	Paused      bool
	PauseReason PauseReason
	ETag        string
	Revision    string
	Downloads   int
	Uploads     int
	Errors      int
	LastDownload time.Time
	LastUpload   time.Time
	RecentCycles int
	Plugins      []string
}

// Orchestrator composes the remote client, the engines, and the
// filesystem watcher into the watch loop.
type Orchestrator struct {
	cfg    Config
	eng    *engine.Engine
	remote *client.Client
	cred   client.Credential
	log    logging.Logger

	// hostFactory rebuilds the plugin host for reload-plugins.
	hostFactory func() (*plugins.Host, error)

	mailbox  chan event
	quit     chan struct{}
	quitOnce sync.Once
	tw       *watcher.TreeWatcher

	// watcherActive gates the filesystem producer so reactions never
	// observe their own writes. Written by reactions, read by the
	// watcher callback.
	watcherActive atomic.Bool

	// Everything below is only touched inside reactions.
	paused       PauseReason
	revision     string
	lastFetched  flow.Document
	cycleWindow  []time.Time
	implicated   []string
	errorStreak  int
	rebuildFails int

	downloads    int
	uploads      int
	errors       int
	lastDownload time.Time
	lastUpload   time.Time
}

// New creates an orchestrator. hostFactory is invoked by the
// reload-plugins command to build a fresh host; it may be nil.
func New(cfg Config, eng *engine.Engine, remote *client.Client, cred client.Credential, hostFactory func() (*plugins.Host, error), log logging.Logger) *Orchestrator {
	cfg.defaults()
	if log == nil {
		log = logging.NewNop()
	}
	o := &Orchestrator{
		cfg:         cfg,
		eng:         eng,
		remote:      remote,
		cred:        cred,
		hostFactory: hostFactory,
		log:         log.WithComponent("watch"),
		mailbox:     make(chan event, 64),
		quit:        make(chan struct{}),
	}
	o.watcherActive.Store(true)
	return o
}

// Run drives the loop until ctx is cancelled or quit is received. The
// tree is created if missing and an initial unconditional poll is
// enqueued.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(o.cfg.TreeRoot, 0o755); err != nil {
		return flowerrors.NewIO("creating tree root", err).WithPath(o.cfg.TreeRoot)
	}

	tw, err := watcher.New(o.cfg.Debounce, o.log)
	if err != nil {
		return flowerrors.NewIO("creating filesystem watcher", err)
	}
	tw.AddFilter(watcher.NoHidden)
	tw.AddFilter(watcher.NoOrphaned)
	tw.AddHandler(func(events []watcher.ChangeEvent) {
		// Producer side of the self-trigger gate: drops everything the
		// loop wrote itself.
		if !o.watcherActive.Load() {
			return
		}
		o.enqueue(event{kind: evLocalEdit})
		o.log.Debug(ctx, "local edits detected", "files", len(events))
	})
	if err := tw.AddRecursive(o.cfg.TreeRoot); err != nil {
		return flowerrors.NewIO("watching tree", err).WithPath(o.cfg.TreeRoot)
	}
	tw.Start(ctx)
	defer tw.Stop()
	o.tw = tw

	// Poller: pure producer.
	go func() {
		ticker := time.NewTicker(o.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.enqueue(event{kind: evPoll})
			}
		}
	}()

	if o.cfg.EnableComms {
		notifier := client.NewCommsNotifier(o.remote.BaseURL(), o.cred, func() {
			o.enqueue(event{kind: evPoll})
		}, o.log)
		go notifier.Run(ctx)
	}

	// First sync is unconditional.
	o.enqueue(event{kind: evPoll, force: true})

	o.log.Info(ctx, "watch loop started",
		"tree", o.cfg.TreeRoot,
		"poll", o.cfg.PollInterval.String(),
		"debounce", o.cfg.Debounce.String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.quit:
			return nil
		case ev := <-o.mailbox:
			o.react(ctx, ev)
		}
	}
}

// Command submits an operator command and waits for its result.
func (o *Orchestrator) Command(ctx context.Context, cmd Command) CommandResult {
	reply := make(chan CommandResult, 1)
	select {
	case o.mailbox <- event{kind: evCommand, cmd: cmd, reply: reply}:
	case <-ctx.Done():
		return CommandResult{Err: ctx.Err()}
	case <-o.quit:
		return CommandResult{Err: flowerrors.NewInternal("watch loop stopped", nil)}
	}
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return CommandResult{Err: ctx.Err()}
	}
}

func (o *Orchestrator) enqueue(ev event) {
	select {
	case o.mailbox <- ev:
	default:
		// Mailbox full: the loop is behind; ticks and edits coalesce
		// into whatever is already queued.
	}
}

// react executes exactly one reaction; it is the only mutator of the
// shared state.
func (o *Orchestrator) react(ctx context.Context, ev event) {
	switch ev.kind {
	case evPoll:
		o.reactPoll(ctx, ev.force)
	case evLocalEdit:
		o.reactLocalEdit(ctx, ev.synthetic)
	case evCommand:
		ev.reply <- o.reactCommand(ctx, ev.cmd)
	}
}

// reactPoll fetches the remote document and applies it locally when it
// changed.
func (o *Orchestrator) reactPoll(ctx context.Context, force bool) {
	if o.paused != PauseNone {
		return
	}

	fr := o.remote.Fetch(ctx, force)
	switch fr.Status {
	case client.FetchUnchanged:
		o.errorStreak = 0
	case client.FetchFresh:
		o.errorStreak = 0
		o.applyRemote(ctx, fr)
	case client.FetchError:
		o.errors++
		o.errorStreak++
		o.log.Warn(ctx, fr.Err, "fetch failed", "streak", o.errorStreak)
		if o.errorStreak >= maxErrorStreak {
			o.pause(ctx, PauseErrorCap)
		}
	}
}

// applyRemote is the RemoteUpdate reaction: explode the fetched
// document into the tree behind the watcher gate.
func (o *Orchestrator) applyRemote(ctx context.Context, fr client.FetchResult) {
	o.watcherActive.Store(false)
	defer func() {
		// Drop anything the explode itself triggered before reopening
		// the gate.
		if o.tw != nil {
			o.tw.Reset()
		}
		o.watcherActive.Store(true)
	}()

	if o.cfg.DocPath != "" {
		if err := os.MkdirAll(filepath.Dir(o.cfg.DocPath), 0o755); err != nil {
			o.errors++
			o.log.Error(ctx, err, "creating document directory")
			return
		}
		if err := os.WriteFile(o.cfg.DocPath, flow.Encode(fr.Document), 0o644); err != nil {
			o.errors++
			o.log.Error(ctx, err, "writing fetched document")
			return
		}
	}

	res, err := o.eng.Explode(ctx, fr.Document, o.cfg.TreeRoot, o.cfg.DocPath, o.cfg.EngineOptions)
	if err != nil {
		o.errors++
		o.log.Error(ctx, err, "explode failed")
		return
	}

	o.revision = fr.Revision
	o.lastFetched = fr.Document
	o.downloads++
	o.lastDownload = time.Now()
	o.implicated = res.ModifiedBy

	o.log.Info(ctx, "remote update applied",
		"nodes", res.Nodes,
		"revision", o.revision,
		"unstable", len(res.UnstableNodes))

	if res.NeedsPush() {
		// The stored document differs from what the tree rebuilds to;
		// converge by uploading.
		o.enqueue(event{kind: evLocalEdit, synthetic: true})
	}
}

// reactLocalEdit is the LocalEdit reaction: rebuild the tree and push
// under the current revision.
func (o *Orchestrator) reactLocalEdit(ctx context.Context, synthetic bool) {
	if o.paused != PauseNone {
		return
	}

	res, err := o.eng.Rebuild(ctx, o.cfg.TreeRoot, o.cfg.DocPath, rebuildOptions(o.cfg.EngineOptions, synthetic))
	if err != nil {
		o.errors++
		o.rebuildFails++
		o.log.Error(ctx, err, "rebuild failed", "streak", o.rebuildFails)
		if o.rebuildFails >= o.cfg.MaxRebuildFailures {
			o.pause(ctx, PauseErrorCap)
		}
		return
	}
	o.rebuildFails = 0

	o.push(ctx, res.Document, true)
}

// push uploads the document, handling every outcome of the state
// diagram. retryOnRateLimit allows a single retry once the window
// reopens.
func (o *Orchestrator) push(ctx context.Context, doc flow.Document, retryOnRateLimit bool) {
	pr := o.remote.Push(ctx, doc, o.revision)
	switch pr.Status {
	case client.PushOk:
		// Revisions are server-supplied and strictly monotonic; never
		// reuse a stale one.
		o.revision = pr.NewRevision
		o.uploads++
		o.lastUpload = time.Now()
		o.errorStreak = 0
		o.recordCycle(ctx)
		o.log.Info(ctx, "pushed", "revision", o.revision)

	case client.PushConflict:
		o.log.Warn(ctx, pr.Err, "remote conflict; local changes not deployed")
		o.pause(ctx, PauseConflict)

	case client.PushRateLimited:
		wait := o.remote.Limiter().TimeUntilReady()
		o.log.Warn(ctx, pr.Err, "rate limited", "reopen_in", wait.String())
		if !retryOnRateLimit {
			o.errors++
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		o.push(ctx, doc, false)

	case client.PushError:
		o.errors++
		o.errorStreak++
		o.log.Error(ctx, pr.Err, "push failed", "streak", o.errorStreak)
		if o.errorStreak >= maxErrorStreak {
			o.pause(ctx, PauseErrorCap)
		}
	}
}

// recordCycle tracks push completions in the sliding convergence
// window; exceeding the limit means explode and rebuild disagree and
// the loop is ping-ponging with the server.
func (o *Orchestrator) recordCycle(ctx context.Context) {
	now := time.Now()
	cutoff := now.Add(-o.cfg.ConvergenceWindow)
	kept := o.cycleWindow[:0]
	for _, t := range o.cycleWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	o.cycleWindow = append(kept, now)

	if len(o.cycleWindow) > o.cfg.ConvergenceLimit {
		o.log.Error(ctx, flowerrors.NewOscillation("push/fetch cycles exceed limit"),
			"oscillation detected; pausing",
			"cycles", len(o.cycleWindow),
			"window", o.cfg.ConvergenceWindow.String(),
			"implicated_plugins", o.implicated)
		o.pause(ctx, PauseOscillation)
	}
}

func (o *Orchestrator) pause(ctx context.Context, reason PauseReason) {
	if o.paused == PauseNone {
		o.log.Warn(ctx, nil, "watch loop paused", "reason", string(reason))
	}
	o.paused = reason
}

func (o *Orchestrator) resume(ctx context.Context) {
	if o.paused != PauseNone {
		o.log.Info(ctx, "watch loop resumed", "was", string(o.paused))
	}
	o.paused = PauseNone
	o.errorStreak = 0
	o.rebuildFails = 0
	o.cycleWindow = nil
}

func (o *Orchestrator) status() *Status {
	return &Status{
		Paused:       o.paused != PauseNone,
		PauseReason:  o.paused,
		ETag:         o.remote.ETag(),
		Revision:     o.revision,
		Downloads:    o.downloads,
		Uploads:      o.uploads,
		Errors:       o.errors,
		LastDownload: o.lastDownload,
		LastUpload:   o.lastUpload,
		RecentCycles: len(o.cycleWindow),
		Plugins:      o.eng.Host().Names(),
	}
}

func rebuildOptions(base engine.Options, continued bool) engine.Options {
	base.ContinuedFromExplode = continued
	return base
}
