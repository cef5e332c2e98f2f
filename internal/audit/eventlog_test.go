package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-assess/internal/db"
)

func TestEventRepo_AppendAndList(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, "file:audit_test?mode=memory&cache=shared")
	require.NoError(t, err)
	defer conn.Close()

	r := NewEventRepo(conn, "")
	require.NoError(t, r.Append(ctx, "AttemptStarted", "a1", map[string]any{"attempt_number": 1}))
	require.NoError(t, r.Append(ctx, "AttemptStarted", "a2", nil))
	require.NoError(t, r.Append(ctx, "AttemptSubmitted", "a1", map[string]any{"score": 80}))

	evs, err := r.ListByKey(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "AttemptStarted", evs[0].Type)
	assert.Equal(t, "AttemptSubmitted", evs[1].Type)
	assert.Less(t, evs[0].Seq, evs[1].Seq)
	assert.Equal(t, "local", evs[0].SiteID)

	var data map[string]int
	require.NoError(t, json.Unmarshal([]byte(evs[1].DataJSON), &data))
	assert.Equal(t, 80, data["score"])
}

func TestMemoryLog(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLog()
	require.NoError(t, m.Append(ctx, "AttemptExpired", "a1", map[string]string{"status": "expired"}))
	require.NoError(t, m.Append(ctx, "AttemptStarted", "b", nil))

	evs, err := m.ListByKey(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.JSONEq(t, `{"status":"expired"}`, evs[0].DataJSON)
}
