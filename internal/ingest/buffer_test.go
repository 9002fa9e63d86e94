package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/engine"
	"vigil/internal/model"
)

type captureSink struct {
	mu     sync.Mutex
	data   []model.Data
	events []model.Event
}

func (s *captureSink) SendData(_ context.Context, data []model.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data...)
	return nil
}

func (s *captureSink) SendEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *captureSink) received() ([]model.Data, []model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Data(nil), s.data...), append([]model.Event(nil), s.events...)
}

func TestBufferFiltersInactiveData(t *testing.T) {
	sink := &captureSink{}
	filter := engine.NewActiveDataCache()
	filter.Register("t1", "tr1", "cpu")

	b := NewBuffer(Config{Sink: sink, Filter: filter, Workers: 1})
	b.Start()

	b.BufferData([]model.Data{
		model.NewData("t1", "cpu", 1000, 1),
		model.NewData("t1", "disk", 1000, 2),
	}, true)
	b.Stop()

	data, _ := sink.received()
	require.Len(t, data, 1)
	assert.Equal(t, "cpu", data[0].ID)
}

func TestBufferDeduplicatesBatch(t *testing.T) {
	sink := &captureSink{}
	filter := engine.NewActiveDataCache()
	filter.Register("t1", "tr1", "cpu")

	b := NewBuffer(Config{Sink: sink, Filter: filter, Workers: 1})
	b.Start()

	d := model.NewData("t1", "cpu", 1000, 1)
	b.BufferData([]model.Data{d, d, model.NewData("t1", "cpu", 2000, 2)}, true)
	b.Stop()

	data, _ := sink.received()
	require.Len(t, data, 2)
	assert.Equal(t, int64(1000), data[0].Timestamp)
	assert.Equal(t, int64(2000), data[1].Timestamp)
}

func TestBufferEnforcesMinInterval(t *testing.T) {
	sink := &captureSink{}
	filter := engine.NewActiveDataCache()
	filter.Register("t1", "tr1", "cpu")

	b := NewBuffer(Config{
		Sink: sink, Filter: filter, Workers: 1,
		DataMinInterval: time.Second,
	})
	b.Start()

	b.BufferData([]model.Data{
		model.NewData("t1", "cpu", 0, 1),
		model.NewData("t1", "cpu", 500, 2),
		model.NewData("t1", "cpu", 1500, 3),
	}, true)
	b.Stop()

	data, _ := sink.received()
	require.Len(t, data, 2)
	assert.Equal(t, int64(0), data[0].Timestamp)
	assert.Equal(t, int64(1500), data[1].Timestamp)
}

func TestBufferSkipsFilterForRelayedBatches(t *testing.T) {
	sink := &captureSink{}
	// Empty cache drops everything on the raw path
	filter := engine.NewActiveDataCache()

	b := NewBuffer(Config{Sink: sink, Filter: filter, Workers: 1})
	b.Start()

	b.BufferData([]model.Data{model.NewData("t1", "cpu", 1000, 1)}, false)
	b.Stop()

	data, _ := sink.received()
	assert.Len(t, data, 1, "relayed batches were filtered at their origin")
}

func TestBufferFiltersInactiveEvents(t *testing.T) {
	sink := &captureSink{}
	filter := engine.NewActiveDataCache()
	filter.Register("t1", "tr1", "deploys")

	b := NewBuffer(Config{Sink: sink, Filter: filter, Workers: 1})
	b.Start()

	b.BufferEvents([]model.Event{
		model.NewEvent("t1", "deploys", "DEPLOYMENT", "rollout", 1000),
		model.NewEvent("t1", "other", "DEPLOYMENT", "noise", 1000),
	}, true)
	b.Stop()

	_, events := sink.received()
	require.Len(t, events, 1)
	assert.Equal(t, "deploys", events[0].DataID)
}

func TestBufferDropsFullyInactiveBatch(t *testing.T) {
	sink := &captureSink{}
	filter := engine.NewActiveDataCache()

	b := NewBuffer(Config{Sink: sink, Filter: filter, Workers: 1})
	b.Start()

	b.BufferData([]model.Data{model.NewData("t1", "cpu", 1000, 1)}, true)
	b.Stop()

	data, events := sink.received()
	assert.Empty(t, data)
	assert.Empty(t, events)
}
