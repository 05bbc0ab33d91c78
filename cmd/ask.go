package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/askbot/internal/graph"
	"github.com/askbot/pkg/models"
)

// AskCommand returns the CLI command for a one-off question
func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a question through the response graph and print the reply",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "thread",
				Aliases: []string{"t"},
				Usage:   "Thread key; reuse it to continue a conversation",
				Value:   "cli",
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Resume an interrupted run on the thread instead of asking",
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Print the thread summary and tags after the reply",
			},
		},
		Action: runAsk,
	}
}

func runAsk(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" && !c.Bool("resume") {
		return errors.New("a question is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	a, err := newApp(c.Context, cfg)
	if err != nil {
		return err
	}
	defer a.Close(c.Context)

	thread := c.String("thread")
	var state *graph.State
	if c.Bool("resume") {
		state, err = a.graph.Resume(c.Context, thread)
	} else {
		state, err = a.graph.Invoke(c.Context, thread, graph.Input{
			Messages: []models.ChatMessage{{Role: models.RoleHuman, Content: text}},
		})
	}
	if err != nil {
		return err
	}

	reply, ok := state.Last()
	if !ok {
		return errors.New("no reply")
	}
	fmt.Fprintln(c.App.Writer, reply.Content)

	if c.Bool("summary") && state.Summary != nil {
		fmt.Fprintf(c.App.Writer, "\nsummary: %s\ntags: %s\n", *state.Summary, strings.Join(state.Tags, ", "))
	}
	return nil
}
