package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .driftwatch.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to driftwatch! Let's configure your workspace.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Workspace name.
	wsPrompt := promptui.Prompt{
		Label:   "Workspace name",
		Default: cfg.Workspace,
	}
	workspace, err := wsPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("workspace name: %w", err)
	}
	cfg.Workspace = workspace

	// 2. Environment.
	envPrompt := promptui.Select{
		Label: "Select environment",
		Items: []string{"production", "development"},
	}
	_, envStr, err := envPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("environment selection: %w", err)
	}
	cfg.Environment = Environment(envStr)

	// 3. HTTP port.
	portPrompt := promptui.Prompt{
		Label:   "HTTP port",
		Default: strconv.Itoa(cfg.Server.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("must be a port number")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	// 4. Slack webhook.
	slackPrompt := promptui.Prompt{
		Label:   "Slack incoming webhook URL (blank to skip notifications)",
		Default: "",
	}
	slackURL, err := slackPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("slack webhook: %w", err)
	}
	cfg.Slack.WebhookURL = slackURL

	// 5. Confluence base URL.
	confPrompt := promptui.Prompt{
		Label:   "Confluence base URL (blank if not using Confluence)",
		Default: "",
	}
	confURL, err := confPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("confluence url: %w", err)
	}
	cfg.Confluence.BaseURL = confURL
	if confURL != "" {
		userPrompt := promptui.Prompt{
			Label: "Confluence username (email)",
		}
		user, err := userPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("confluence username: %w", err)
		}
		cfg.Confluence.Username = user
		if os.Getenv("CONFLUENCE_API_TOKEN") == "" {
			fmt.Println("\nNote: Set CONFLUENCE_API_TOKEN in your environment before serving.")
		}
	}

	if os.Getenv("OPENAI_API_KEY") == "" {
		fmt.Println("\nNote: Set OPENAI_API_KEY in your environment to enable patch generation and doc search.")
	}

	// Save to .driftwatch.yml.
	configPath := ".driftwatch.yml"
	if err := cfg.Save(configPath); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", configPath)
	return cfg, nil
}
