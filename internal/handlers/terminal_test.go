package handlers

import "testing"

func TestTerminalAttachIsExclusivePerTab(t *testing.T) {
	const id = "tab-exclusive"

	if !attachTab(id) {
		t.Fatal("first attach rejected")
	}
	if attachTab(id) {
		t.Error("second attach must be rejected while the first is live")
	}
	if !attachTab("tab-other") {
		t.Error("attach to a different tab rejected")
	}
	detachTab("tab-other")

	detachTab(id)
	if !attachTab(id) {
		t.Error("attach after detach rejected")
	}
	detachTab(id)
}
