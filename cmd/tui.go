package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUIArtists browses followed artists.
func (r *Runner) TUIArtists(ctx context.Context, cmd *cli.Command) error {
	return r.runTUI(ctx, cmd, ui.Options{Mode: ui.ArtistsMode, Limit: cmd.Int("limit")})
}

// TUISearch browses track search results, prompting for a query when none is given.
func (r *Runner) TUISearch(ctx context.Context, cmd *cli.Command) error {
	return r.runTUI(ctx, cmd, ui.Options{
		Mode:  ui.TracksMode,
		Query: strings.TrimSpace(cmd.StringArg("query")),
		Limit: cmd.Int("limit"),
	})
}

// runTUI authorizes before the program takes over the terminal, then hands the service to the model.
func (r *Runner) runTUI(ctx context.Context, cmd *cli.Command, opts ui.Options) error {
	svc, err := r.service(ctx)
	if err != nil {
		return err
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	path, err := shared.ExpandHome(cmd.String("log-file"))
	if err != nil {
		return err
	}
	fileLogger, err := shared.NewFileLogger(path)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	opts.Open = r.openBrowser
	model := ui.NewModel(ctx, svc, opts)
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	if err := model.Err(); err != nil && services.IsAuthError(err) {
		return fmt.Errorf("%w; run \"spotauth auth login\" and try again", err)
	}
	return nil
}
