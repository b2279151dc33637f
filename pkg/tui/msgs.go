package tui

import "github.com/pipewatch/pipewatch/pkg/bus"

type RunSnapshotMsg struct {
	Snapshot bus.RunSnapshot
}

type RunEventMsg struct {
	Event bus.RunEvent
}
