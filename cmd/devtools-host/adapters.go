package main

import (
	"context"
	"time"

	"github.com/outpostlabs/devtools-core/internal/hotreload"
	"github.com/outpostlabs/devtools-core/internal/logger"
	"github.com/outpostlabs/devtools-core/internal/rpcpipe"
	"github.com/outpostlabs/devtools-core/internal/supervisor"
)

// clientRestarterAdapter satisfies hotreload.ClientRestarter by wrapping
// the Client Lifecycle Supervisor, which spawns with a LaunchOptions
// argument the coordinator's narrower interface doesn't carry.
type clientRestarterAdapter struct {
	sup  *supervisor.Supervisor
	opts supervisor.LaunchOptions
}

func (a *clientRestarterAdapter) Teardown(ctx context.Context) error {
	return a.sup.Teardown(ctx)
}

func (a *clientRestarterAdapter) WaitForPipeRelease(ctx context.Context) error {
	return a.sup.WaitForPipeRelease(ctx)
}

func (a *clientRestarterAdapter) Spawn(ctx context.Context) (cdpPort int, spawnedAt time.Time, err error) {
	rec, err := a.sup.Spawn(ctx, a.opts)
	if err != nil {
		return 0, time.Time{}, err
	}
	return rec.CDPPort, rec.SpawnedAt, nil
}

// pipeProgress forwards one open progress notification to the Client
// pipe over its own connection, held for the notification's lifetime.
// The wire methods it calls (editor.startProgress/reportProgress/
// closeProgress) are this core's own naming for the external GUI
// collaborator contract hotreload.Notifier leaves unspecified.
type pipeProgress struct {
	client     *rpcpipe.Client
	progressID string
}

func (p *pipeProgress) Report(message string) {
	if p.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Call(ctx, "editor.reportProgress", reportProgressParams{ProgressID: p.progressID, Message: message}, nil); err != nil {
		logger.Debug("devtools-host: report progress: %v", err)
	}
}

func (p *pipeProgress) Close() {
	if p.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Call(ctx, "editor.closeProgress", closeProgressParams{ProgressID: p.progressID}, nil); err != nil {
		logger.Debug("devtools-host: close progress: %v", err)
	}
	_ = p.client.Close()
}

// pipeNotifier implements hotreload.Notifier by dialing the Client pipe.
type pipeNotifier struct {
	pipePath string
}

func (n *pipeNotifier) StartProgress(title string) hotreload.ProgressReporter {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := rpcpipe.Dial(ctx, n.pipePath)
	if err != nil {
		logger.Warn("devtools-host: start progress %q: dial client pipe: %v", title, err)
		return &pipeProgress{}
	}

	var result startProgressResult
	if err := client.Call(ctx, "editor.startProgress", startProgressParams{Title: title}, &result); err != nil {
		logger.Warn("devtools-host: start progress %q: %v", title, err)
		_ = client.Close()
		return &pipeProgress{}
	}

	return &pipeProgress{client: client, progressID: result.ProgressID}
}

// pipeEditorCommands implements hotreload.EditorCommands by dialing the
// Client pipe fresh per call — these are infrequent, one-shot commands
// with no state to hold across calls.
type pipeEditorCommands struct {
	pipePath string
}

func (e *pipeEditorCommands) StopMCPServer(ctx context.Context) error {
	return e.call(ctx, "editor.stopMcpServer")
}

func (e *pipeEditorCommands) ClearToolCache(ctx context.Context) error {
	return e.call(ctx, "editor.clearToolCache")
}

func (e *pipeEditorCommands) StartMCPServer(ctx context.Context) error {
	return e.call(ctx, "editor.startMcpServer")
}

func (e *pipeEditorCommands) call(ctx context.Context, method string) error {
	client, err := rpcpipe.Dial(ctx, e.pipePath)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Call(ctx, method, struct{}{}, nil)
}

type startProgressParams struct {
	Title string `json:"title"`
}

type startProgressResult struct {
	ProgressID string `json:"progressId"`
}

type reportProgressParams struct {
	ProgressID string `json:"progressId"`
	Message    string `json:"message"`
}

type closeProgressParams struct {
	ProgressID string `json:"progressId"`
}
