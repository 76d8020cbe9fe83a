package ui

// MockUI implements UI for tests in other packages.
type MockUI struct {
	Replies  []string
	Statuses []string
	Logs     []string
}

func (m *MockUI) ShowReply(text string)    { m.Replies = append(m.Replies, text) }
func (m *MockUI) ShowStatus(status string) { m.Statuses = append(m.Statuses, status) }
func (m *MockUI) Log(msg string)           { m.Logs = append(m.Logs, msg) }
