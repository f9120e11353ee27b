package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/spotauth/internal/models"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	LoadingView ViewState = iota
	ListView
	SearchView
)

// Mode selects what the TUI lists.
type Mode int

const (
	ArtistsMode Mode = iota
	TracksMode
)

// Options configures a [Model].
type Options struct {
	Mode  Mode
	Query string // initial track query in TracksMode
	Limit int
	Open  func(url string) error // defaults to [shared.OpenBrowser]
}

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	view    ViewState
	mode    Mode
	service services.Service
	query   string
	limit   int
	open    func(string) error
	width   int
	height  int
	list    list.Model
	input   textinput.Model
	status  string
	err     error
	help    help.Model
	keys    keyMap
}

// NewModel creates a new TUI model reading from service.
func NewModel(ctx context.Context, service services.Service, opts Options) *Model {
	if opts.Open == nil {
		opts.Open = shared.OpenBrowser
	}

	input := textinput.New()
	input.Placeholder = "artist, track or album"
	input.CharLimit = 200

	m := &Model{
		ctx:     ctx,
		view:    LoadingView,
		mode:    opts.Mode,
		service: service,
		query:   opts.Query,
		limit:   opts.Limit,
		open:    opts.Open,
		input:   input,
		help:    help.New(),
		keys:    newKeyMap(),
		list:    list.New(nil, list.NewDefaultDelegate(), 0, 0),
	}
	m.list.SetShowHelp(false)

	if m.mode == TracksMode && m.query == "" {
		m.view = SearchView
		m.input.Focus()
	}
	return m
}

// Init starts the first fetch, or the cursor blink when a query is needed first.
func (m *Model) Init() tea.Cmd {
	if m.view == SearchView {
		return textinput.Blink
	}
	return m.fetch()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width-4, msg.Height-6)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case SearchView:
			return m.handleSearchKeys(msg)
		case ListView:
			return m.handleListKeys(msg)
		default:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateComponents(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgArtistsFetched:
		m.view = ListView
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		artists, _ := msg.data.([]models.Artist)
		m.err = nil
		m.list.Title = fmt.Sprintf("Followed Artists (%d)", len(artists))
		return m, m.list.SetItems(artistItems(artists))

	case MsgTracksFetched:
		m.view = ListView
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		tracks, _ := msg.data.([]models.Track)
		m.err = nil
		m.list.Title = fmt.Sprintf("Tracks for %q (%d)", m.query, len(tracks))
		return m, m.list.SetItems(trackItems(tracks))

	case MsgOpened:
		url, _ := msg.data.(string)
		if msg.err != nil {
			m.status = Err(fmt.Sprintf("could not open %s: %v", url, msg.err))
		} else {
			m.status = OK("opened " + url)
		}
	}
	return m, nil
}

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.list.FilterState() == list.Filtering {
		return m.updateComponents(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.open):
		if item, ok := m.list.SelectedItem().(linkItem); ok {
			return m, m.openItem(item)
		}
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.view = LoadingView
		m.status = ""
		return m, m.fetch()
	case key.Matches(msg, m.keys.search) && m.mode == TracksMode:
		m.view = SearchView
		m.input.SetValue(m.query)
		m.input.Focus()
		return m, textinput.Blink
	}

	return m.updateComponents(msg)
}

func (m *Model) handleSearchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		if m.query == "" {
			return m, tea.Quit
		}
		m.input.Blur()
		m.view = ListView
		return m, nil
	case tea.KeyEnter:
		if m.input.Value() == "" {
			return m, nil
		}
		m.query = m.input.Value()
		m.input.Blur()
		m.view = LoadingView
		m.status = ""
		return m, m.fetch()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) updateComponents(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case ListView:
		m.list, cmd = m.list.Update(msg)
	case SearchView:
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetch() tea.Cmd {
	ctx, svc, limit, query := m.ctx, m.service, m.limit, m.query
	if m.mode == TracksMode {
		return func() tea.Msg {
			tracks, err := svc.SearchTracks(ctx, query, limit)
			return tracksFetchedMsg(tracks, err)
		}
	}
	return func() tea.Msg {
		artists, err := svc.FollowedArtists(ctx, limit)
		return artistsFetchedMsg(artists, err)
	}
}

func (m *Model) openItem(item linkItem) tea.Cmd {
	url, open := item.URL(), m.open
	return func() tea.Msg {
		if url == "" {
			return openedMsg(item.FilterValue(), fmt.Errorf("%w: no link", shared.ErrInvalidInput))
		}
		return openedMsg(url, open(url))
	}
}

// Err returns the last fetch error, if any.
func (m *Model) Err() error {
	return m.err
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case LoadingView:
		return styles.title.Render("Loading…") + "\n" + m.help.ShortHelpView([]key.Binding{m.keys.quit})
	case SearchView:
		return m.renderSearch()
	default:
		return m.renderList()
	}
}

func (m *Model) renderSearch() string {
	title := styles.title.Render("Search tracks")
	helpView := m.help.ShortHelpView([]key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "search")),
		m.keys.back,
	})
	return fmt.Sprintf("%s\n%s\n\n%s", title, m.input.View(), helpView)
}

func (m *Model) renderList() string {
	if m.err != nil {
		return Err(fmt.Sprintf("Error: %v", m.err)) + "\n\n" +
			m.help.ShortHelpView([]key.Binding{m.keys.reload, m.keys.quit})
	}

	keys := []key.Binding{m.keys.open, m.keys.reload}
	if m.mode == TracksMode {
		keys = append(keys, m.keys.search)
	}
	keys = append(keys, m.keys.quit)

	out := m.list.View()
	if m.status != "" {
		out += "\n" + m.status
	}
	return out + "\n\n" + m.help.ShortHelpView(keys)
}
