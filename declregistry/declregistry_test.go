package declregistry

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/internal/consoletest"
)

func TestMain(m *testing.M) {
	consoletest.WrapTestMain(m)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	type testBundle struct{}

	setup := func(t *testing.T) (*Registry, *testBundle) {
		t.Helper()

		return New(consoletest.BaseServiceArchetype(t)), &testBundle{}
	}

	var (
		boundType = &consoletype.TypeDeclaration{
			Binding:       consoletype.DeclarationStatus{Bound: true, Message: "bound"},
			ComponentName: "build",
		}
		unboundInstance = &consoletype.InstanceDeclaration{
			Binding:       consoletype.DeclarationStatus{Message: "missing type"},
			ComponentName: "deploy",
		}
	)

	t.Run("BindAndGet", func(t *testing.T) {
		t.Parallel()

		registry, _ := setup(t)

		registry.Bind(consoletype.ServiceRef{OwnerID: 1, ServiceID: 10}, boundType)

		entry, ok := registry.Get(10)
		require.True(t, ok)
		require.Equal(t, boundType, entry.Declaration)
		require.Equal(t, int64(1), entry.Ref.OwnerID)

		_, ok = registry.Get(11)
		require.False(t, ok)
	})

	t.Run("BindReplaces", func(t *testing.T) {
		t.Parallel()

		registry, _ := setup(t)

		registry.Bind(consoletype.ServiceRef{ServiceID: 10}, boundType)
		registry.Bind(consoletype.ServiceRef{ServiceID: 10}, unboundInstance)

		entry, ok := registry.Get(10)
		require.True(t, ok)
		require.Equal(t, unboundInstance, entry.Declaration)
		require.Len(t, registry.List().Entries, 1)
	})

	t.Run("Unbind", func(t *testing.T) {
		t.Parallel()

		registry, _ := setup(t)

		registry.Bind(consoletype.ServiceRef{ServiceID: 10}, boundType)

		require.True(t, registry.Unbind(10))
		require.False(t, registry.Unbind(10))

		_, ok := registry.Get(10)
		require.False(t, ok)
	})

	t.Run("ListOrderedWithCounts", func(t *testing.T) {
		t.Parallel()

		registry, _ := setup(t)

		registry.Bind(consoletype.ServiceRef{ServiceID: 30}, boundType)
		registry.Bind(consoletype.ServiceRef{ServiceID: 10}, unboundInstance)
		registry.Bind(consoletype.ServiceRef{ServiceID: 20}, &consoletype.ExtensionDeclaration{
			Binding:       consoletype.DeclarationStatus{Bound: true},
			ExtensionName: "memqueue",
		})

		res := registry.List()
		require.Equal(t, 2, res.NumBound)
		require.Equal(t, 1, res.NumUnbound)

		serviceIDs := make([]int64, len(res.Entries))
		for i, entry := range res.Entries {
			serviceIDs[i] = entry.Ref.ServiceID
		}
		require.Equal(t, []int64{10, 20, 30}, serviceIDs)
	})

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()

		registry, _ := setup(t)

		require.Equal(t, &ListResult{Entries: []*Entry{}}, registry.List())
	})

	t.Run("ConcurrentBindAndList", func(t *testing.T) {
		t.Parallel()

		registry, _ := setup(t)

		var group errgroup.Group
		for worker := range 4 {
			group.Go(func() error {
				for i := range 50 {
					serviceID := int64(worker*100 + i)
					registry.Bind(consoletype.ServiceRef{ServiceID: serviceID}, &consoletype.ExtensionDeclaration{
						ExtensionName: "ext" + strconv.FormatInt(serviceID, 10),
					})
					res := registry.List()
					require.Equal(t, len(res.Entries), res.NumBound+res.NumUnbound)
				}
				return nil
			})
		}
		require.NoError(t, group.Wait())

		require.Len(t, registry.List().Entries, 200)
	})
}
