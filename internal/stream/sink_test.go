package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSSink_Subject(t *testing.T) {
	sink := NewNATSSink(nil, "")
	assert.Equal(t, "minutes.sessions.abc.done", sink.Subject("abc", StageDone))

	sink = NewNATSSink(nil, " team.minutes. ")
	assert.Equal(t, "team.minutes.sessions.abc.extracting", sink.Subject("abc", StageExtracting))
}

func TestNATSSink_MirrorsSession(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 16)
	s, err := sub.ChanSubscribe("minutes.sessions.sess-1.*", msgs)
	require.NoError(t, err)
	defer func() { _ = s.Unsubscribe() }()
	require.NoError(t, sub.Flush())

	sink, err := ConnectNATSSink(server.ClientURL(), "", zap.NewNop())
	require.NoError(t, err)

	orch := newOrchestrator(&staticRetriever{passages: meeting()}, nil)
	events := collect(t, NewSession(orch, Request{CorpusID: "m1"},
		WithSink(sink), WithSessionID("sess-1")).Run(context.Background()))
	require.NoError(t, sink.Close())

	var got []string
	timeout := time.After(5 * time.Second)
	for len(got) < len(events) {
		select {
		case msg := <-msgs:
			var ev Event
			require.NoError(t, json.Unmarshal(msg.Data, &ev))
			assert.Equal(t, "minutes.sessions.sess-1."+ev.Stage, msg.Subject)
			got = append(got, ev.Stage)
		case <-timeout:
			t.Fatalf("received %v, want %v", got, stages(events))
		}
	}
	assert.Equal(t, stages(events), got)
}

func TestNATSSink_CloseLeavesSharedConnection(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sink := NewNATSSink(nc, "minutes")
	require.NoError(t, sink.Publish(context.Background(), "s", Event{Stage: StageRetrieving, Progress: 5}))
	require.NoError(t, sink.Close())
	assert.True(t, nc.IsConnected())
}

func TestConnectNATSSink_Unreachable(t *testing.T) {
	_, err := ConnectNATSSink("nats://127.0.0.1:1", "", nil)
	assert.Error(t, err)
}
