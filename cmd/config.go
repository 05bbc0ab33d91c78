package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/askbot/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the askbot configuration file",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample askbot.toml",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Where to write the file",
						Value:   "askbot.toml",
					},
				},
				Action: func(c *cli.Context) error {
					path := c.String("output")
					if err := config.InitConfig(path); err != nil {
						return fmt.Errorf("config init: %w", err)
					}
					fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Load the effective configuration and check it",
				Action: func(c *cli.Context) error {
					cfg, err := loadEffective(c)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "ok: llm=%s/%s embedding=%s background=%s checkpoint=%s\n",
						cfg.LLM.Provider, cfg.LLM.Model, cfg.Embedding.Provider,
						cfg.Background.Driver, cfg.Checkpoint.Driver)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Print the effective configuration with secrets masked",
				Action: func(c *cli.Context) error {
					cfg, err := loadEffective(c)
					if err != nil {
						return err
					}
					printConfig(c.App.Writer, cfg)
					return nil
				},
			},
		},
	}
}

func loadEffective(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	if w == nil {
		w = os.Stdout
	}
	rows := []struct{ key, value string }{
		{"server.port", fmt.Sprint(cfg.Server.Port)},
		{"server.jwt_secret", mask(cfg.Server.JWTSecret)},
		{"database.url", mask(cfg.Database.URL)},
		{"llm.provider", cfg.LLM.Provider},
		{"llm.model", cfg.LLM.Model},
		{"llm.api_key", mask(cfg.LLM.APIKey)},
		{"llm.timeout", cfg.LLM.Timeout.String()},
		{"embedding.provider", cfg.Embedding.Provider},
		{"embedding.model", cfg.Embedding.Model},
		{"embedding.dimensions", fmt.Sprint(cfg.Embedding.Dimensions)},
		{"cache.similarity_threshold", fmt.Sprint(cfg.Cache.SimilarityThreshold)},
		{"slack.app_id", cfg.Slack.AppID},
		{"slack.bot_token", mask(cfg.Slack.BotToken)},
		{"slack.signing_secret", mask(cfg.Slack.SigningSecret)},
		{"background.driver", cfg.Background.Driver},
		{"background.workers", fmt.Sprint(cfg.Background.Workers)},
		{"checkpoint.driver", cfg.Checkpoint.Driver},
		{"security.redact_secrets", fmt.Sprint(cfg.Security.RedactSecrets)},
		{"security.deidentify_pii", fmt.Sprint(cfg.Security.DeidentifyPII)},
		{"security.pii_key", mask(cfg.Security.PIIKey)},
		{"security.prompt_guard", fmt.Sprint(cfg.Security.PromptGuard)},
		{"log.level", cfg.Log.Level},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-28s %s\n", r.key, r.value)
	}
}

func mask(s string) string {
	switch {
	case s == "":
		return "(unset)"
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + "****" + s[len(s)-2:]
	}
}
