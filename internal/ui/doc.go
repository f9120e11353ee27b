// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI lists either the user's followed artists or the results of a track search:
//  1. [LoadingView] : waiting for the Web API
//  2. [ListView] : browse and filter results; enter opens the item on open.spotify.com
//  3. [SearchView] : type a new track query
//
// The [Model] implements bubbletea's Init/Update/View pattern, receiving fetch results via the [Msg] union type.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, s, r, q) with contextual help displayed via
// charmbracelet/bubbles/help.
package ui
