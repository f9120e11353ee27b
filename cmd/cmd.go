// submodule cmd contains command definitions
package main

import (
	"github.com/desertthunder/spotauth/internal/formatter"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/urfave/cli/v3"
)

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, markdown, csv or json",
		Value:   string(formatter.FormatText),
	}
}

func limitFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "limit",
		Aliases: []string{"l"},
		Usage:   "Maximum number of results (1-50)",
		Value:   services.DefaultLimit,
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example config.toml to the --config path",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles the authorization flow and the token cache.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize with Spotify and manage the cached token",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Run the full flow: open the browser and wait for the callback",
				Action: r.AuthLogin,
			},
			{
				Name:  "authorize",
				Usage: "Start a flow and print the authorization URL",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "open",
						Usage: "Open the URL in the browser",
					},
				},
				Action: r.AuthAuthorize,
			},
			{
				Name:  "callback",
				Usage: "Finish a flow started with authorize",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Usage: "Full redirect URL the browser landed on",
					},
					&cli.StringFlag{
						Name:  "code",
						Usage: "Authorization code",
					},
					&cli.StringFlag{
						Name:  "state",
						Usage: "State parameter returned with the code",
					},
				},
				Action: r.AuthCallback,
			},
			{
				Name:  "token",
				Usage: "Print the cached access token",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output token and expiry as JSON",
					},
				},
				Action: r.AuthToken,
			},
			{
				Name:   "status",
				Usage:  "Show the authorization state",
				Action: r.AuthStatus,
			},
			{
				Name:   "logout",
				Usage:  "Forget the cached token and any pending flow",
				Action: r.AuthLogout,
			},
			{
				Name:  "history",
				Usage: "Show recorded flow transitions (sqlite store only)",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of events to show",
						Value: 20,
					},
				},
				Action: r.AuthHistory,
			},
		},
	}
}

// meCommand shows the signed-in user.
func meCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "me",
		Usage: "Show the signed-in Spotify profile",
		Flags: []cli.Flag{
			formatFlag(),
			&cli.StringFlag{
				Name:  "avatar",
				Usage: "Save the profile image to this path",
			},
		},
		Action: r.Me,
	}
}

// artistsCommand lists followed artists.
func artistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "artists",
		Usage: "List followed artists",
		Flags: []cli.Flag{
			formatFlag(),
			limitFlag(),
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Follow pagination and list every followed artist",
			},
		},
		Action: r.Artists,
	}
}

// searchCommand searches the catalog for tracks.
func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search for tracks",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "query"},
		},
		Flags:  []cli.Flag{formatFlag(), limitFlag()},
		Action: r.Search,
	}
}

// tuiCommand returns the top-level TUI command for browsing artists and tracks.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Browse Spotify interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the TUI owns the terminal",
				Value: "~/.spotauth/tui.log",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "artists",
				Usage:  "Browse followed artists",
				Flags:  []cli.Flag{limitFlag()},
				Action: r.TUIArtists,
			},
			{
				Name:  "search",
				Usage: "Search tracks; prompts for a query when none is given",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "query"},
				},
				Flags:  []cli.Flag{limitFlag()},
				Action: r.TUISearch,
			},
		},
	}
}
