package llm

import (
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/worklog-sh/worklog/internal/config"
	"github.com/worklog-sh/worklog/logging"
)

var (
	providerMu   sync.Mutex
	providerInst Backend
	providerErr  error
	providerSet  bool
)

// Provider returns the process-wide backend for the given config,
// selecting it on first use and memoizing the result, including a
// selection failure.
func Provider(cfg *config.Config) (Backend, error) {
	providerMu.Lock()
	defer providerMu.Unlock()
	if !providerSet {
		providerInst, providerErr = selectBackend(cfg)
		providerSet = true
		if providerErr == nil {
			logging.Info("selected Anthropic backend", "backend", providerInst.Name())
		}
	}
	return providerInst, providerErr
}

// Reset clears the memoized backend. Intended for tests and for re-runs
// after configuration changes.
func Reset() {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerInst, providerErr, providerSet = nil, nil, false
}

// selectBackend implements backend selection. An explicit backend
// setting is honored or fails loudly; auto prefers the CLI when an
// OAuth token and a usable binary are present, then falls back to the
// SDK.
func selectBackend(cfg *config.Config) (Backend, error) {
	apiKey := cfg.Anthropic.APIKey
	oauth := cfg.Anthropic.OAuthToken

	switch cfg.Anthropic.Backend {
	case "sdk":
		if !strings.HasPrefix(apiKey, "sk-ant-") {
			return nil, errors.New("backend \"sdk\" requires an Anthropic API key (sk-ant-...)")
		}
		return NewSDKBackend(apiKey), nil
	case "cli":
		if !strings.HasPrefix(oauth, "sk-ant-oat") {
			return nil, errors.New("backend \"cli\" requires an OAuth token (sk-ant-oat...)")
		}
		binPath, err := resolveCLI(cfg.Anthropic.CLIPath)
		if err != nil {
			return nil, err
		}
		return NewCLIBackend(binPath, oauth), nil
	case "", "auto":
	default:
		return nil, errors.Errorf("unknown backend %q (want sdk, cli, or auto)", cfg.Anthropic.Backend)
	}

	if strings.HasPrefix(oauth, "sk-ant-oat") {
		binPath, err := resolveCLI(cfg.Anthropic.CLIPath)
		if err == nil {
			return NewCLIBackend(binPath, oauth), nil
		}
		logging.Debug("claude CLI unavailable, trying SDK", "error", err.Error())
	}
	if apiKey != "" {
		return NewSDKBackend(apiKey), nil
	}
	return nil, errors.Wrapf(ErrNoCredentials, "set ANTHROPIC_API_KEY or CLAUDE_CODE_OAUTH_TOKEN, or run %q", config.SetupCommand)
}

// resolveCLI locates the claude binary and rejects paths that could be
// misinterpreted when the path crosses a shell boundary.
func resolveCLI(explicit string) (string, error) {
	bin := explicit
	if bin == "" {
		bin = DefaultCLIBinary
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", errors.Wrapf(err, "claude CLI binary %q not found", bin)
	}
	if !shellSafePath(path) {
		return "", errors.Errorf("claude CLI path %q contains shell metacharacters", path)
	}
	return path, nil
}

func shellSafePath(path string) bool {
	return !strings.ContainsAny(path, ";&|$`\\\n\"'<>")
}
