package notice

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-annotator/pkg/failure"
)

func TestMultiFansOut(t *testing.T) {
	a := &Recorder{}
	b := &Recorder{}
	var seen []string
	m := Multi{a, nil, b, Func(func(n Notice) { seen = append(seen, n.Message) }), Log{Log: logs.NewTestingLog(t)}}

	m.Notify(Notice{Kind: failure.KindConfig, Message: MissingCredentials})
	m.Notify(Notice{Kind: failure.KindTransport, Message: "Error: 500 boom", Source: "https://example.com/a.jpg"})

	require.Len(t, a.Notices(), 2)
	require.Equal(t, a.Notices(), b.Notices())
	require.Equal(t, []string{MissingCredentials, "Error: 500 boom"}, seen)
	require.Equal(t, "https://example.com/a.jpg", a.Notices()[1].Source)
}

func TestRecorderReturnsCopy(t *testing.T) {
	r := &Recorder{}
	r.Notify(Notice{Message: "one"})
	got := r.Notices()
	got[0].Message = "changed"
	require.Equal(t, "one", r.Notices()[0].Message)
}

func TestBus(t *testing.T) {
	bus := NewBus()
	require.False(t, bus.HasSubscribers())
	bus.Notify(Notice{Message: "nobody listening"})

	rec := &Recorder{}
	unsubscribe, err := bus.Subscribe(rec.Notify)
	require.NoError(t, err)
	require.True(t, bus.HasSubscribers())

	bus.Notify(Notice{Kind: failure.KindTransport, Message: "Error: 401 Access denied"})
	require.Equal(t, []Notice{{Kind: failure.KindTransport, Message: "Error: 401 Access denied"}}, rec.Notices())

	unsubscribe()
	bus.Notify(Notice{Message: "after"})
	require.Len(t, rec.Notices(), 1)
}
