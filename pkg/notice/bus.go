package notice

import (
	evbus "github.com/asaskevich/EventBus"
)

// Topic is the bus topic notices are published on
const Topic = "annotator:notice"

// Bus publishes notices to any number of subscribers. Handlers run
// synchronously on the publishing goroutine, which for the annotator is the
// event loop, so they must not block.
type Bus struct {
	bus evbus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

func (b *Bus) Notify(n Notice) {
	b.bus.Publish(Topic, n)
}

// Subscribe registers fn and returns a function that removes it
func (b *Bus) Subscribe(fn func(Notice)) (func(), error) {
	if err := b.bus.Subscribe(Topic, fn); err != nil {
		return nil, err
	}
	return func() {
		b.bus.Unsubscribe(Topic, fn)
	}, nil
}

func (b *Bus) HasSubscribers() bool {
	return b.bus.HasCallback(Topic)
}
