package chattui

import "github.com/agusx1211/parley/pkg/protocol"

// SessionUpdatedMsg signals that a session's record changed and the view
// should re-read its snapshot.
type SessionUpdatedMsg struct {
	Key string
}

// ConnLostMsg signals that the backend connection dropped.
type ConnLostMsg struct {
	Err error
}

// StatsMsg carries freshly fetched usage for the active session.
type StatsMsg struct {
	Key   string
	Usage *protocol.Usage
	Err   error
}

// SessionListMsg carries the backend session listing for the picker.
type SessionListMsg struct {
	Sessions []protocol.SessionInfo
	Err      error
}

// tickMsg drives the streaming spinner.
type tickMsg struct{}
