package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/auth"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/store"
	"github.com/urfave/cli/v3"
)

// ServiceFactory builds an API client for an access token.
type ServiceFactory func(token *auth.Token) (services.Service, error)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The token store and controller are built lazily so that commands like "setup config" run
// without a client id.
type Runner struct {
	config      *shared.Config
	configPath  string
	store       store.TokenStore
	controller  *auth.Controller
	newService  ServiceFactory
	openBrowser func(string) error
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	Store       store.TokenStore
	Controller  *auth.Controller
	NewService  ServiceFactory
	OpenBrowser func(string) error
	HTTPClient  *http.Client
	Logger      *log.Logger
	Output      io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	r := &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		store:       opts.Store,
		controller:  opts.Controller,
		newService:  opts.NewService,
		openBrowser: opts.OpenBrowser,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
	}
	if r.newService == nil {
		r.newService = r.spotifyService
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, meCommand, artistsCommand, searchCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before resolves the configuration named by --config unless one was injected, and applies --verbose.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	if r.config != nil {
		return ctx, nil
	}

	r.configPath = cmd.String("config")
	config, err := shared.ResolveConfig(r.configPath)
	if err != nil {
		return ctx, err
	}
	r.config = config
	r.logger.Debug("configuration resolved", "path", r.configPath, "store", config.Store.Backend)
	return ctx, nil
}

// after releases the token store, if one was opened.
func (r *Runner) after(_ context.Context, _ *cli.Command) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("failed to close token store", "error", err)
	}
	return nil
}

// Config returns the resolved configuration, falling back to defaults.
func (r *Runner) Config() *shared.Config {
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}
	return r.config
}

// Store opens the configured token store on first use.
func (r *Runner) Store(ctx context.Context) (store.TokenStore, error) {
	if r.store != nil {
		return r.store, nil
	}

	s, err := store.Open(ctx, r.Config())
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	if fs, ok := s.(*store.FileStore); ok {
		fs.SetLogger(r.logger)
	}
	r.store = s
	return s, nil
}

// Controller validates the configuration and builds the authorization flow controller on first use.
func (r *Runner) Controller(ctx context.Context) (*auth.Controller, error) {
	if r.controller != nil {
		return r.controller, nil
	}

	config := r.Config()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s, err := r.Store(ctx)
	if err != nil {
		return nil, err
	}

	controller, err := auth.NewController(auth.FromConfig(config), auth.Options{
		Store:  s,
		Logger: shared.WithLogger(r.logger, "component", "auth"),
	})
	if err != nil {
		return nil, err
	}
	r.controller = controller
	return controller, nil
}

func (r *Runner) spotifyService(token *auth.Token) (services.Service, error) {
	opts := append(services.FromConfig(r.Config()), services.WithLogger(shared.WithLogger(r.logger, "component", "spotify")))
	svc, err := services.NewSpotifyService(token, opts...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
	if fs, ok := r.store.(*store.FileStore); ok {
		fs.SetLogger(logger)
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeBytes(b []byte) error {
	if _, err := r.output.Write(b); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
