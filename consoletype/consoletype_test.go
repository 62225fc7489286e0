package consoletype

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobOutcomeFailed(t *testing.T) {
	t.Parallel()

	require.False(t, (*JobOutcome)(nil).Failed())
	require.False(t, (&JobOutcome{Result: "ok"}).Failed())
	require.True(t, (&JobOutcome{Err: errors.New("boom")}).Failed())
}

type onlyStartedListener struct {
	QueueListenerDefaults
	started []*JobInfo
}

func (l *onlyStartedListener) OnStarted(info *JobInfo) { l.started = append(l.started, info) }

func TestQueueListenerDefaults(t *testing.T) {
	t.Parallel()

	var listener QueueListener = &onlyStartedListener{}

	info := &JobInfo{JobType: "build"}
	listener.OnEnlisted(info)
	listener.OnStarted(info)
	listener.OnCompleted(info, &JobOutcome{})

	require.Equal(t, []*JobInfo{info}, listener.(*onlyStartedListener).started) //nolint:forcetypeassert
}
