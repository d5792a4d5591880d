// cmd/retouch/main.go
//
// This is the entry point for the retouch CLI.
// When you run `retouch` from a project directory, this is what executes.
//
// Flow:
// 1. Initialize the .retouch folder next to the résumé
// 2. Launch the TUI

package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quillhq/retouch/internal/config"
	"github.com/quillhq/retouch/internal/tui"
)

func main() {
	// The current working directory is the "project" we're revising in
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
		os.Exit(1)
	}

	if err := config.InitRetouchDir(cwd); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing .retouch directory: %v\n", err)
		os.Exit(1)
	}

	app, err := tui.NewApp(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting retouch: %v\n", err)
		os.Exit(1)
	}

	// tea.NewProgram creates a new bubbletea application;
	// Run blocks until the user quits
	p := tea.NewProgram(
		app,
		tea.WithAltScreen(), // Use alternate screen buffer (like vim does)
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
