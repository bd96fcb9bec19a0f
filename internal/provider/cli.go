package provider

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// runCLI executes an external tool in dir and captures both streams
// separately. A context cancellation kills the process; the partial output
// captured up to that point is still returned for the audit trail.
func runCLI(ctx context.Context, dir, bin string, args ...string) Response {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return Response{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
}

// installed reports whether a binary is on PATH.
func installed(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}

// GeminiCLI reviews through the Google Gemini CLI. Review-only: the gemini
// tool is invoked read-only with a prompt and never edits files.
type GeminiCLI struct {
	Bin string // defaults to "gemini"
}

// NewGeminiCLI returns a GeminiCLI adapter.
func NewGeminiCLI(bin string) *GeminiCLI {
	if bin == "" {
		bin = "gemini"
	}
	return &GeminiCLI{Bin: bin}
}

func (g *GeminiCLI) Name() string { return "gemini" }
func (g *GeminiCLI) Capabilities() Capability { return CapReview }
func (g *GeminiCLI) Available() bool { return installed(g.Bin) }

func (g *GeminiCLI) Review(ctx context.Context, req Request) Response {
	return runCLI(ctx, req.Dir, g.Bin, "-p", req.Prompt)
}

// codexDeniedMarker appears in codex output when the account lacks the
// required subscription, even though the process exits zero.
const codexDeniedMarker = "upgrade to Plus"

// CodexCLI reviews and repairs through the OpenAI Codex CLI. Repair runs
// with workspace-write sandboxing so the tool may edit files under the
// target directory.
type CodexCLI struct {
	Bin string // defaults to "codex"
}

// NewCodexCLI returns a CodexCLI adapter.
func NewCodexCLI(bin string) *CodexCLI {
	if bin == "" {
		bin = "codex"
	}
	return &CodexCLI{Bin: bin}
}

func (c *CodexCLI) Name() string { return "codex" }
func (c *CodexCLI) Capabilities() Capability { return CapReview | CapRepair }
func (c *CodexCLI) Available() bool { return installed(c.Bin) }

func (c *CodexCLI) Review(ctx context.Context, req Request) Response {
	resp := runCLI(ctx, req.Dir, c.Bin, "exec", req.Prompt)
	if strings.Contains(resp.Raw(), codexDeniedMarker) {
		resp.Denied = "codex requires a ChatGPT Plus subscription"
	}
	return resp
}

func (c *CodexCLI) Repair(ctx context.Context, dir, directive string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp := runCLI(ctx, dir, c.Bin, "exec", "--sandbox", "workspace-write", directive)
	if strings.Contains(resp.Raw(), codexDeniedMarker) {
		return resp.Raw(), &EntitlementError{Provider: c.Name(), Reason: "codex requires a ChatGPT Plus subscription"}
	}
	if resp.Err != nil {
		return resp.Raw(), resp.Err
	}
	return resp.Raw(), nil
}

// EntitlementError marks a provider call rejected for subscription or quota
// reasons, surfaced distinctly so users know why a provider failed.
type EntitlementError struct {
	Provider string
	Reason   string
}

func (e *EntitlementError) Error() string {
	return e.Provider + ": " + e.Reason
}
