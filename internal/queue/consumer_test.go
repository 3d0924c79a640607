package queue

import (
    "encoding/json"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestHandleMessage_AppendsLines(t *testing.T) {
    dir := filepath.Join(t.TempDir(), "logs")

    for _, ev := range []ActivityRecordedEvent{
        {ActivityID: 1, UserID: 7, Action: "CREATE", ListID: "L", TaskID: "T1", TaskTitle: "Buy milk", RecordedAt: "2024-01-01T00:00:00Z"},
        {ActivityID: 2, UserID: 7, Action: "DELETE", ListID: "L", TaskID: "T1", RecordedAt: "2024-01-01T00:01:00Z"},
    } {
        body, err := json.Marshal(ev)
        require.NoError(t, err)
        require.NoError(t, handleMessage(dir, body))
    }

    data, err := os.ReadFile(filepath.Join(dir, "activity.log"))
    require.NoError(t, err)
    lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
    require.Len(t, lines, 2)
    assert.Equal(t, `[2024-01-01T00:00:00Z] Task CREATE | activity_id=1 | user_id=7 | list="L" | task="T1" | title="Buy milk"`, lines[0])
    assert.Contains(t, lines[1], "Task DELETE")
}

func TestHandleMessage_Rejects(t *testing.T) {
    dir := t.TempDir()
    assert.Error(t, handleMessage(dir, []byte("not json")))
    assert.Error(t, handleMessage(dir, []byte(`{"user_id":0,"action":"CREATE"}`)))

    _, err := os.Stat(filepath.Join(dir, "activity.log"))
    assert.True(t, os.IsNotExist(err))
}
