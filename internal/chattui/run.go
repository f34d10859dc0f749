package chattui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/agusx1211/parley/internal/chat"
	"github.com/agusx1211/parley/internal/remote"
)

// RunConfig holds everything needed to launch the chat TUI.
type RunConfig struct {
	Engine      *chat.Engine
	Client      *remote.Client
	SessionKeys []string
}

// Run launches the TUI and bridges backend events into both the engine and
// the program until either exits.
func Run(cfg RunConfig) error {
	model := New(cfg.Engine, cfg.Client, cfg.SessionKeys)
	p := tea.NewProgram(model, tea.WithAltScreen())

	// Backend events feed the engine; the engine's update notifications
	// drive repaints.
	go func() {
		for ev := range cfg.Client.Chat() {
			cfg.Engine.HandleChatEvent(ev)
		}
	}()
	go func() {
		for ev := range cfg.Client.Tool() {
			cfg.Engine.HandleToolEvent(ev)
		}
	}()
	go func() {
		for key := range cfg.Engine.Updates() {
			p.Send(SessionUpdatedMsg{Key: key})
		}
	}()
	go func() {
		<-cfg.Client.Done()
		p.Send(ConnLostMsg{Err: cfg.Client.Err()})
	}()

	if len(cfg.SessionKeys) > 0 {
		first := cfg.SessionKeys[0]
		cfg.Engine.Open(first)
		go cfg.Engine.LoadHistory(context.Background(), first)
	}

	_, err := p.Run()
	return err
}
