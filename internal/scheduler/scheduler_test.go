package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/protoflow/internal/clock"
	"github.com/krew-solutions/protoflow/internal/engine"
	"github.com/krew-solutions/protoflow/internal/flow"
	"github.com/krew-solutions/protoflow/internal/scheduler"
	"github.com/krew-solutions/protoflow/internal/store"
	"github.com/krew-solutions/protoflow/internal/store/memstore"
)

func seedSingleNodeFlow(t *testing.T) (*memstore.MemStore, *flow.Node) {
	t.Helper()
	ms := memstore.New()
	ms.SeedProject(flow.Project{ID: "p1", Name: "p1", Status: flow.ProjectActive})
	tpl := &flow.MessageTemplate{ID: "tpl1", ProjectID: "p1", Type: flow.TemplateBroadcast, TextEN: "hi"}
	ms.SeedTemplate(tpl)
	node := &flow.Node{ID: "n1", ProjectID: "p1", MessageTemplateID: tpl.ID}
	ms.SeedNode(node)
	return ms, node
}

func TestRunOnce_ExecutesDueJobAndMarksDone(t *testing.T) {
	ms, node := seedSingleNodeFlow(t)
	clk := clock.NewStepped(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := engine.New(ms, clk)

	pid, err := eng.EnrollParticipant("p1", "English", nil)
	require.NoError(t, err)

	require.NoError(t, ms.InsertScheduledJob(&store.ScheduledJob{
		ID: "job1", ParticipantID: pid, NodeID: node.ID,
		RunAt: clk.Now(), Status: store.JobPending, CreatedAt: clk.Now(),
	}))

	sched := scheduler.New(ms, eng, 0, time.Millisecond)
	ctx := scheduler.WithNow(context.Background(), clk.Now())

	n, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs, err := ms.ListMessages(pid)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestRunOnce_SkipsJobsNotYetDue(t *testing.T) {
	ms, node := seedSingleNodeFlow(t)
	clk := clock.NewStepped(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := engine.New(ms, clk)

	pid, err := eng.EnrollParticipant("p1", "English", nil)
	require.NoError(t, err)

	require.NoError(t, ms.InsertScheduledJob(&store.ScheduledJob{
		ID: "job1", ParticipantID: pid, NodeID: node.ID,
		RunAt: clk.Now().Add(time.Hour), Status: store.JobPending, CreatedAt: clk.Now(),
	}))

	sched := scheduler.New(ms, eng, 0, time.Millisecond)
	n, err := sched.RunOnce(scheduler.WithNow(context.Background(), clk.Now()))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunOnce_AlreadyRunningJobIsNotReclaimed(t *testing.T) {
	ms, node := seedSingleNodeFlow(t)
	clk := clock.NewStepped(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := engine.New(ms, clk)

	pid, err := eng.EnrollParticipant("p1", "English", nil)
	require.NoError(t, err)

	require.NoError(t, ms.InsertScheduledJob(&store.ScheduledJob{
		ID: "job1", ParticipantID: pid, NodeID: node.ID,
		RunAt: clk.Now(), Status: store.JobRunning, CreatedAt: clk.Now(),
	}))

	sched := scheduler.New(ms, eng, 0, time.Millisecond)
	n, err := sched.RunOnce(scheduler.WithNow(context.Background(), clk.Now()))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRun_StopsWhenContextCancelled(t *testing.T) {
	ms, _ := seedSingleNodeFlow(t)
	clk := clock.NewStepped(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := engine.New(ms, clk)
	sched := scheduler.New(ms, eng, 0, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sched.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
