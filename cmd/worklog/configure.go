package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/worklog-sh/worklog/internal/config"
)

const configTemplate = `# worklog configuration.
# Environment variables override this file (SLACK_USER_TOKEN,
# ANTHROPIC_API_KEY, CLAUDE_CODE_OAUTH_TOKEN, OPENAI_API_KEY, WORKLOG_*).

[slack]
user_token = ""        # xoxp- user token with search:read scope
rate_limit = 10
concurrency = 10

[anthropic]
api_key = ""           # sk-ant-... for the SDK backend
oauth_token = ""       # sk-ant-oat... for the claude CLI backend
model = "%s"
backend = ""           # "", "sdk", "cli" ("" selects automatically)
concurrency = 20

[database]
path = "%s"

[logging]
level = "info"

[performance]
channel_concurrency = 10

[settings]
timezone = "America/Los_Angeles"

[embeddings]
enabled = false
api_key = ""           # OpenAI key for semantic similarity
model = "text-embedding-3-small"
reference_weight = 0.6
embedding_weight = 0.4
`

var flagConfigureReset bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a config file template and show how settings resolve.",
	RunE: func(_ *cobra.Command, _ []string) error {
		path, err := config.FilePath()
		if err != nil {
			return err
		}

		_, statErr := os.Stat(path)
		if flagConfigureReset || os.IsNotExist(statErr) {
			dbPath := cfg.Database.Path
			contents := fmt.Sprintf(configTemplate, config.ModelHaiku, dbPath)
			if err := config.Write(path, contents); err != nil {
				return err
			}
			fmt.Printf("Wrote config template to %s\n\n", path)
		} else {
			fmt.Printf("Config file: %s\n\n", path)
		}

		fmt.Println("Resolved configuration:")
		fmt.Printf("  slack token:        %s\n", redact(cfg.Slack.UserToken))
		fmt.Printf("  anthropic api key:  %s\n", redact(cfg.Anthropic.APIKey))
		fmt.Printf("  oauth token:        %s\n", redact(cfg.Anthropic.OAuthToken))
		fmt.Printf("  model:              %s\n", cfg.Anthropic.Model)
		fmt.Printf("  backend:            %s\n", orAuto(cfg.Anthropic.Backend))
		fmt.Printf("  database:           %s\n", cfg.Database.Path)
		fmt.Printf("  timezone:           %s\n", cfg.Settings.Timezone)
		fmt.Printf("  embeddings:         %v\n", cfg.Embeddings.Enabled)

		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nNot ready: %v\n", err)
		} else {
			fmt.Println("\nConfiguration is ready.")
		}
		return nil
	},
}

func init() {
	configureCmd.Flags().BoolVar(&flagConfigureReset, "reset", false, "overwrite the config file with a fresh template")
}

func redact(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	if len(secret) <= 12 {
		return "****"
	}
	return secret[:8] + "..." + secret[len(secret)-4:]
}

func orAuto(backend string) string {
	if backend == "" {
		return "auto"
	}
	return backend
}
