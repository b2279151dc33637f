package tui

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/pipewatch/pipewatch/pkg/bus"
)

// RegisterForwarder bridges bus envelopes into bubbletea messages.
func RegisterForwarder(b *bus.Bus, p *tea.Program) {
	b.AddHandler("pipewatch-tui-snapshots", bus.TopicRunSnapshots, func(msg *message.Message) error {
		defer msg.Ack()

		env, err := bus.DecodeEnvelope(msg)
		if err != nil {
			return err
		}
		if env.Type != bus.TypeRunSnapshot {
			return nil
		}
		var snap bus.RunSnapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			return errors.Wrap(err, "unmarshal snapshot payload")
		}
		p.Send(RunSnapshotMsg{Snapshot: snap})
		return nil
	})

	b.AddHandler("pipewatch-tui-events", bus.TopicRunEvents, func(msg *message.Message) error {
		defer msg.Ack()

		env, err := bus.DecodeEnvelope(msg)
		if err != nil {
			return err
		}
		if env.Type != bus.TypeRunEvent {
			return nil
		}
		var ev bus.RunEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return errors.Wrap(err, "unmarshal event payload")
		}
		p.Send(RunEventMsg{Event: ev})
		return nil
	})
}
