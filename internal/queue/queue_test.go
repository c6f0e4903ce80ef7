package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/nodequeue/internal/storage"
)

// echoJob records executions into a shared slice and fails while failures > 0
type echoJob struct {
	ID   string `json:"id"`
	Body string `json:"body"`

	runs     *[]string
	failures *int
}

func (j *echoJob) Type() string       { return "echo" }
func (j *echoJob) Identifier() string { return j.ID }
func (j *echoJob) Label() string      { return "Echo " + j.ID }

func (j *echoJob) Execute(ctx context.Context, q Queue, msg *Message) error {
	if j.failures != nil && *j.failures > 0 {
		*j.failures--
		return errors.New("boom")
	}
	if j.runs != nil {
		*j.runs = append(*j.runs, j.ID)
	}
	return nil
}

func registerEcho(c *Codec, runs *[]string, failures *int) {
	c.Register("echo", func(data json.RawMessage) (Job, error) {
		job := &echoJob{runs: runs, failures: failures}
		if err := json.Unmarshal(data, job); err != nil {
			return nil, err
		}
		return job, nil
	})
}

func newTestCodec(t *testing.T, threshold int) *Codec {
	c, err := NewCodec(threshold)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func largeBody(n int) string {
	return strings.Repeat("lorem ipsum ", n)
}
