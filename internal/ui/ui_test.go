package ui

import (
	"testing"
)

func TestSilentUI_DoesNothing(t *testing.T) {
	u := SilentUI{}
	// Should not panic
	u.ShowReply("hello")
	u.ShowStatus("generating")
	u.Log("test message")
	u.Log("")
}

func TestSilentUI_ImplementsInterface(t *testing.T) {
	var _ UI = SilentUI{}
	var _ UI = &SilentUI{}
}

func TestMockUI_Records(t *testing.T) {
	u := &MockUI{}

	u.ShowReply("a")
	u.ShowReply("b")
	u.ShowStatus("busy")
	u.Log("line")

	if len(u.Replies) != 2 || u.Replies[1] != "b" {
		t.Errorf("expected 2 replies, got %v", u.Replies)
	}
	if len(u.Statuses) != 1 || len(u.Logs) != 1 {
		t.Errorf("unexpected recordings: %v %v", u.Statuses, u.Logs)
	}
}
