package pg_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/protoflow/internal/flow"
	"github.com/krew-solutions/protoflow/internal/session"
	"github.com/krew-solutions/protoflow/internal/store"
	"github.com/krew-solutions/protoflow/internal/store/pg"
	"github.com/krew-solutions/protoflow/internal/testutils"
)

// testTables points the Store at scratch, _test-suffixed tables so the
// integration suite never touches a real deployment's schema, the same
// convention the teacher's dek_store_integration_test.go uses
// (stream_deks_test, kms_keys_dek_test).
func testTables() pg.Tables {
	d := pg.DefaultTables()
	return pg.Tables{
		Projects:             d.Projects + "_test",
		TimingElements:       d.TimingElements + "_test",
		Variables:            d.Variables + "_test",
		MessageTemplates:     d.MessageTemplates + "_test",
		Nodes:                d.Nodes + "_test",
		NodeConditions:       d.NodeConditions + "_test",
		Keywords:             d.Keywords + "_test",
		Participants:         d.Participants + "_test",
		ParticipantVariables: d.ParticipantVariables + "_test",
		ParticipantMessages:  d.ParticipantMessages + "_test",
		NodeExecutionLogs:    d.NodeExecutionLogs + "_test",
		ScheduledJobs:        d.ScheduledJobs + "_test",
	}
}

func setupPgStoreIntegrationTest(t *testing.T) (*pg.Store, pg.Tables, func()) {
	t.Helper()

	pool, err := testutils.NewPgSessionPool()
	if err != nil {
		t.Fatalf("Failed to create session pool: %v", err)
	}

	tables := testTables()
	ctx := context.Background()
	st := pg.New(pool, ctx, tables)

	if err := st.Setup(); err != nil {
		t.Fatalf("Failed to set up schema: %v", err)
	}

	cleanup := func() {
		_ = pool.Session(ctx, func(s session.Session) error {
			return s.Atomic(func(tx session.Session) error {
				conn := tx.(session.DbSession).Connection()
				for _, table := range []string{
					tables.ScheduledJobs, tables.NodeExecutionLogs, tables.ParticipantMessages,
					tables.ParticipantVariables, tables.Participants, tables.Keywords,
					tables.NodeConditions, tables.Nodes, tables.MessageTemplates,
					tables.Variables, tables.TimingElements, tables.Projects,
				} {
					_, _ = conn.Exec("DROP TABLE IF EXISTS " + table + " CASCADE")
				}
				return nil
			})
		})
	}

	return st, tables, cleanup
}

// seedDefinitions writes flow-definition rows with plain SQL: the Store
// interface only reads definitions (spec.md treats seeding as the host's
// job, outside the Store's write surface), so the test suite is its own
// seeder, exactly like the teacher's integration tests poke tables
// directly via conn.Exec rather than through the component under test.
func seedDefinitions(t *testing.T, pool session.Pool, tables pg.Tables, projectID string) (templateID, nodeID string) {
	t.Helper()
	templateID = "tpl-" + projectID
	nodeID = "node-" + projectID

	err := pool.Session(context.Background(), func(s session.Session) error {
		return s.Atomic(func(tx session.Session) error {
			conn := tx.(session.DbSession).Connection()
			if _, err := conn.Exec(
				"INSERT INTO "+tables.Projects+" (id, name, status) VALUES ($1, $2, $3)",
				projectID, "Integration Project", string(flow.ProjectActive),
			); err != nil {
				return err
			}
			if _, err := conn.Exec(
				"INSERT INTO "+tables.MessageTemplates+" (id, project_id, type, text_en) VALUES ($1, $2, $3, $4)",
				templateID, projectID, string(flow.TemplateBroadcast), "hello",
			); err != nil {
				return err
			}
			_, err := conn.Exec(
				"INSERT INTO "+tables.Nodes+" (id, project_id, message_template_id) VALUES ($1, $2, $3)",
				nodeID, projectID, templateID,
			)
			return err
		})
	})
	require.NoError(t, err)
	return templateID, nodeID
}

func TestPgStore_GetProjectReadsSeededRow(t *testing.T) {
	st, tables, cleanup := setupPgStoreIntegrationTest(t)
	defer cleanup()

	pool, err := testutils.NewPgSessionPool()
	require.NoError(t, err)
	seedDefinitions(t, pool, tables, "proj-int-1")

	got, err := st.GetProject("proj-int-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, flow.ProjectActive, got.Status)
}

func TestPgStore_EnrollExecuteAndDeleteProjectCascades(t *testing.T) {
	st, tables, cleanup := setupPgStoreIntegrationTest(t)
	defer cleanup()

	pool, err := testutils.NewPgSessionPool()
	require.NoError(t, err)
	_, nodeID := seedDefinitions(t, pool, tables, "proj-int-2")

	participant := &store.Participant{
		ID: "participant-int-1", ProjectID: "proj-int-2", Language: "English",
		Status: store.ParticipantActive, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertParticipant(participant))

	require.NoError(t, st.InsertParticipantMessage(&store.ParticipantMessage{
		ID: "msg-int-1", ParticipantID: participant.ID, Direction: store.DirectionOutbound,
		Text: "hello", CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, st.InsertNodeExecutionLog(&store.NodeExecutionLog{
		ID: "log-int-1", ParticipantID: participant.ID, NodeID: nodeID, ExecutedAt: time.Now().UTC(),
	}))

	require.NoError(t, st.DeleteProject("proj-int-2"))

	got, err := st.GetParticipant(participant.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	msgs, err := st.ListMessages(participant.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPgStore_ClaimJobIsExclusive(t *testing.T) {
	st, tables, cleanup := setupPgStoreIntegrationTest(t)
	defer cleanup()

	pool, err := testutils.NewPgSessionPool()
	require.NoError(t, err)
	_, nodeID := seedDefinitions(t, pool, tables, "proj-int-3")

	participant := &store.Participant{
		ID: "participant-int-2", ProjectID: "proj-int-3", Language: "English",
		Status: store.ParticipantActive, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertParticipant(participant))

	now := time.Now().UTC()
	job := &store.ScheduledJob{
		ID: "job-int-1", ParticipantID: participant.ID, NodeID: nodeID,
		RunAt: now, Status: store.JobPending, CreatedAt: now,
	}
	require.NoError(t, st.InsertScheduledJob(job))

	claimed, err := st.ClaimJob(job.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimedAgain, err := st.ClaimJob(job.ID)
	require.NoError(t, err)
	assert.False(t, claimedAgain)
}
