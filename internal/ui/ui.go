package ui

// UI receives conversation output from the runner.
type UI interface {
	ShowReply(text string)
	ShowStatus(status string)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) ShowReply(text string)    {}
func (s SilentUI) ShowStatus(status string) {}
func (s SilentUI) Log(msg string)           {}
