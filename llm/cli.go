package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/worklog-sh/worklog/logging"
)

// DefaultCLIBinary is the claude CLI binary looked up on PATH when no
// explicit path is configured.
const DefaultCLIBinary = "claude"

// CLIBackend shells out to the claude CLI, authenticating with an OAuth
// token. Each call is a fresh non-interactive invocation with session
// persistence disabled.
type CLIBackend struct {
	binPath    string
	oauthToken string
}

// NewCLIBackend builds the subprocess backend. binPath must already be
// resolved and shell-safe.
func NewCLIBackend(binPath, oauthToken string) *CLIBackend {
	return &CLIBackend{binPath: binPath, oauthToken: oauthToken}
}

func (b *CLIBackend) Name() string { return "cli" }

func (b *CLIBackend) CreateMessage(ctx context.Context, model string, maxTokens int, prompt string) (string, error) {
	// The CLI writes session files into its working directory; a throwaway
	// dir keeps those out of the user's tree.
	workDir, err := os.MkdirTemp("", "worklog-claude-*")
	if err != nil {
		return "", errors.Wrap(err, "create CLI working directory")
	}
	defer os.RemoveAll(workDir)

	cmd := exec.CommandContext(ctx, b.binPath,
		"-p", prompt,
		"--model", model,
		"--output-format", "json",
		"--no-session-persistence",
	)
	cmd.Dir = workDir
	// The OAuth token must win over any ambient API key, otherwise the
	// CLI silently bills the wrong credential.
	cmd.Env = append(os.Environ(),
		"CLAUDE_CODE_OAUTH_TOKEN="+b.oauthToken,
		"ANTHROPIC_API_KEY=",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return "", errors.Wrapf(err, "claude CLI failed: %s", detail)
	}

	raw := strings.TrimSpace(stdout.String())
	if raw == "" {
		return "", errors.New("claude CLI produced no output")
	}
	return parseCLIOutput(raw), nil
}

// parseCLIOutput extracts the completion from the CLI's JSON envelope.
// The result lives under "result", "text", or "response" depending on
// CLI version; unparseable output is returned as-is.
func parseCLIOutput(raw string) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		logging.Debug("claude CLI output is not JSON, using raw text")
		return raw
	}
	for _, key := range []string{"result", "text", "response"} {
		val, ok := envelope[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(val, &s); err == nil {
			return s
		}
		// Structured results round-trip through their JSON form.
		return string(val)
	}
	return raw
}
