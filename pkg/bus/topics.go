package bus

const (
	// TopicRunEvents carries one envelope per accepted pipeline event.
	TopicRunEvents = "pipewatch.run.events"
	// TopicRunSnapshots carries the full derived view after each mutation.
	TopicRunSnapshots = "pipewatch.run.snapshots"
)

const (
	TypeRunEvent    = "run.event"
	TypeRunSnapshot = "run.snapshot"
)
