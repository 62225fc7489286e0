package baseservice

import (
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sampleQueue struct {
	BaseService
}

func TestInit(t *testing.T) {
	t.Parallel()

	archetype := NewArchetype(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	queue := Init(archetype, &sampleQueue{})
	require.Equal(t, archetype.Logger, queue.Logger)
	require.Equal(t, "baseservice.sampleQueue", queue.Name)
	require.WithinDuration(t, time.Now().UTC(), queue.Clock.NowUTC(), 2*time.Second)
}

func TestServiceName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "baseservice.sampleQueue", serviceName(reflect.TypeOf(sampleQueue{})))
	require.Equal(t, "baseservice.SystemClock", serviceName(reflect.TypeOf(SystemClock{})))
	require.Equal(t, "Duration", serviceName(reflect.TypeOf(time.Duration(0))), "standard library types have no qualifier")
}

func TestSystemClock(t *testing.T) {
	t.Parallel()

	clock := &SystemClock{}
	require.Equal(t, time.UTC, clock.NowUTC().Location())
	require.PanicsWithValue(t, "system clock can't be stubbed", func() { clock.StubNowUTC(time.Now()) })
}
