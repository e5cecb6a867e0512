package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpoint-media/fluxpoint/workflows"
)

const waitTimeout = 2 * time.Second

func testDefinition(name string) *workflows.Definition {
	return &workflows.Definition{
		Name: name,
		Steps: []workflows.StepDefinition{
			{Type: workflows.StepRTMPReceive},
			{Type: workflows.StepHLSPublish, Parameters: map[string]string{"segment_length": "4"}},
		},
	}
}

func startTestManager(t *testing.T) (*Manager, Store, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	m := Start(ctx, store)
	t.Cleanup(func() {
		cancel()
		<-m.Handle().Done()
	})
	return m, store, cancel
}

func waitForRun(t *testing.T, store Store, workflowName string) *Run {
	t.Helper()
	var run *Run
	require.Eventually(t, func() bool {
		loaded, err := store.Load(context.Background(), workflowName)
		if err != nil {
			return false
		}
		run = loaded
		return true
	}, waitTimeout, 10*time.Millisecond)
	return run
}

func waitForNoRun(t *testing.T, store Store, workflowName string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := store.Load(context.Background(), workflowName)
		return err == ErrNotFound
	}, waitTimeout, 10*time.Millisecond)
}

func TestUpsertStartsWorkflow(t *testing.T) {
	m, store, _ := startTestManager(t)

	ok := m.Handle().Send(Request{
		RequestID: "reactor_r1_stream_camA",
		Operation: UpsertWorkflow{Definition: testDefinition("wfA")},
	})
	require.True(t, ok)

	run := waitForRun(t, store, "wfA")
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "reactor_r1_stream_camA", run.LastRequestID)
	assert.Equal(t, "wfA", run.Definition.Name)
	assert.Len(t, run.Definition.Steps, 2)
}

func TestUpsertReplacesDefinitionKeepsRunID(t *testing.T) {
	m, store, _ := startTestManager(t)

	m.Handle().Send(Request{
		RequestID: "first",
		Operation: UpsertWorkflow{Definition: testDefinition("wfA")},
	})
	first := waitForRun(t, store, "wfA")

	replacement := testDefinition("wfA")
	replacement.Steps = replacement.Steps[:1]
	m.Handle().Send(Request{
		RequestID: "second",
		Operation: UpsertWorkflow{Definition: replacement},
	})

	require.Eventually(t, func() bool {
		run, err := store.Load(context.Background(), "wfA")
		return err == nil && run.LastRequestID == "second"
	}, waitTimeout, 10*time.Millisecond)

	second := waitForRun(t, store, "wfA")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.StartedAt.Unix(), second.StartedAt.Unix())
	assert.Len(t, second.Definition.Steps, 1)
}

func TestStopRemovesRun(t *testing.T) {
	m, store, _ := startTestManager(t)

	m.Handle().Send(Request{
		RequestID: "up",
		Operation: UpsertWorkflow{Definition: testDefinition("wfA")},
	})
	waitForRun(t, store, "wfA")

	m.Handle().Send(Request{
		RequestID: "from_reactor",
		Operation: StopWorkflow{Name: "wfA"},
	})
	waitForNoRun(t, store, "wfA")
}

func TestStopUnknownWorkflowIsHarmless(t *testing.T) {
	m, store, _ := startTestManager(t)

	m.Handle().Send(Request{
		RequestID: "from_reactor",
		Operation: StopWorkflow{Name: "ghost"},
	})

	m.Handle().Send(Request{
		RequestID: "up",
		Operation: UpsertWorkflow{Definition: testDefinition("wfA")},
	})
	waitForRun(t, store, "wfA")
}

func TestNotificationsCarryTransitions(t *testing.T) {
	m, store, _ := startTestManager(t)
	feed := m.Notifications()

	m.Handle().Send(Request{
		RequestID: "up",
		Operation: UpsertWorkflow{Definition: testDefinition("wfA")},
	})
	waitForRun(t, store, "wfA")

	select {
	case ev := <-feed:
		assert.Equal(t, RunUpserted, ev.Type)
		assert.Equal(t, "wfA", ev.Workflow)
		assert.Equal(t, "up", ev.RequestID)
	case <-time.After(waitTimeout):
		t.Fatal("expected an upsert notification")
	}

	m.Handle().Send(Request{
		RequestID: "from_reactor",
		Operation: StopWorkflow{Name: "wfA"},
	})

	select {
	case ev := <-feed:
		assert.Equal(t, RunStopped, ev.Type)
		assert.Equal(t, "wfA", ev.Workflow)
	case <-time.After(waitTimeout):
		t.Fatal("expected a stop notification")
	}
}

func TestReportMediaUpdatesRunAndFeed(t *testing.T) {
	m, store, _ := startTestManager(t)
	feed := m.Notifications()

	m.Handle().Send(Request{
		RequestID: "up",
		Operation: UpsertWorkflow{Definition: testDefinition("wfA")},
	})
	waitForRun(t, store, "wfA")
	<-feed // consume the upsert notification

	notification := workflows.MediaNotification{
		StreamID: "stream-1",
		Content: workflows.Video{
			Codec:      "h264",
			IsKeyframe: true,
			Timestamp:  250 * time.Millisecond,
			SizeBytes:  2048,
		},
	}
	m.Handle().Send(Request{
		RequestID: "edge-node-7",
		Operation: ReportMedia{Workflow: "wfA", Notification: notification},
	})

	select {
	case ev := <-feed:
		assert.Equal(t, RunMedia, ev.Type)
		assert.Equal(t, "wfA", ev.Workflow)
		require.NotNil(t, ev.Media)
		video, ok := ev.Media.Content.(workflows.Video)
		require.True(t, ok)
		assert.True(t, video.IsKeyframe)
	case <-time.After(waitTimeout):
		t.Fatal("expected a media notification on the feed")
	}

	run := waitForRun(t, store, "wfA")
	require.NotNil(t, run.LastMedia)
	assert.Equal(t, workflows.StreamID("stream-1"), run.LastMedia.StreamID)
	// Control-request provenance is not overwritten by traffic reports.
	assert.Equal(t, "up", run.LastRequestID)
}

func TestReportMediaForUnknownWorkflowIsDropped(t *testing.T) {
	m, store, _ := startTestManager(t)

	m.Handle().Send(Request{
		RequestID: "edge-node-7",
		Operation: ReportMedia{
			Workflow:     "ghost",
			Notification: workflows.MediaNotification{StreamID: "s", Content: workflows.StreamDisconnected{}},
		},
	})

	// The registry stays empty and the manager keeps serving.
	m.Handle().Send(Request{
		RequestID: "up",
		Operation: UpsertWorkflow{Definition: testDefinition("wfA")},
	})
	run := waitForRun(t, store, "wfA")
	assert.Nil(t, run.LastMedia)
}

func TestReportMediaSurvivesTheStore(t *testing.T) {
	// LastMedia goes through JSON in the redis store; make sure the variant
	// comes back typed.
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	notification := workflows.MediaNotification{
		StreamID: "stream-1",
		Content:  workflows.Audio{Codec: "aac", Timestamp: time.Second, SizeBytes: 64},
	}
	require.NoError(t, store.Save(ctx, &Run{
		ID:         "run-1",
		Definition: testDefinition("wfA"),
		LastMedia:  &notification,
	}))

	loaded, err := store.Load(ctx, "wfA")
	require.NoError(t, err)
	require.NotNil(t, loaded.LastMedia)
	audio, ok := loaded.LastMedia.Content.(workflows.Audio)
	require.True(t, ok)
	assert.Equal(t, "aac", audio.Codec)
}

func TestHandleReportsManagerGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := Start(ctx, NewMemoryStore())
	handle := m.Handle()

	cancel()

	select {
	case <-handle.Done():
	case <-time.After(waitTimeout):
		t.Fatal("handle did not report the manager gone")
	}

	assert.False(t, handle.Send(Request{
		RequestID: "late",
		Operation: StopWorkflow{Name: "wfA"},
	}))
}
