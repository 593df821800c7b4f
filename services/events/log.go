package eventsvc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/benhuang0857/mclass/core"
)

// LogPublisher logs events at debug level and keeps them in memory.
// It stands in for kafka in development and tests.
type LogPublisher struct {
	logger core.Logger

	mu        sync.Mutex
	published []core.Event
}

var _ core.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(logger core.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, events ...core.Event) error {
	p.mu.Lock()
	p.published = append(p.published, events...)
	p.mu.Unlock()
	for _, e := range events {
		data, _ := json.Marshal(e.Payload)
		p.logger.Debug("event " + e.Name + " " + e.Key + " " + string(data))
	}
	return nil
}

// Published returns the names of the published events, oldest first.
func (p *LogPublisher) Published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.published))
	for _, e := range p.published {
		names = append(names, e.Name)
	}
	return names
}

func (p *LogPublisher) Events() []core.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Event(nil), p.published...)
}
