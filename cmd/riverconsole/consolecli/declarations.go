package consolecli

import (
	"fmt"
	"slices"

	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/declregistry"
)

const workloadComponentVersion = "1.0.0"

// Owner IDs of the modules that register declarations.
const (
	ownerIDHost     int64 = 0
	ownerIDBackend  int64 = 1
	ownerIDWorkload int64 = 2
)

// MissingExtensionError is the failure of a type declaration that requires an
// extension which isn't registered.
type MissingExtensionError struct {
	Extension string
}

func (e *MissingExtensionError) Error() string {
	return fmt.Sprintf("extension %q is not registered", e.Extension)
}

// Binds the declarations of a host into registry: an extension for the queue
// backend and the scheduler, then a type and an instance for each workload job
// type. Types bind when the extension they require is registered, and
// instances bind when their type does. Returns the job types whose instances
// bound, which are the ones the host runs.
func bindDeclarations(registry *declregistry.Registry, backend string, jobTypes []*WorkloadJobType) []*WorkloadJobType {
	var (
		extensions = []string{backend, "scheduler"}
		runnable   = make([]*WorkloadJobType, 0, len(jobTypes))
		serviceID  int64
	)

	nextRef := func(ownerID int64) consoletype.ServiceRef {
		serviceID++
		return consoletype.ServiceRef{OwnerID: ownerID, ServiceID: serviceID}
	}

	for _, extension := range extensions {
		ownerID := ownerIDHost
		if extension == backend {
			ownerID = ownerIDBackend
		}

		registry.Bind(nextRef(ownerID), &consoletype.ExtensionDeclaration{
			Binding:       consoletype.DeclarationStatus{Bound: true, Message: "Extension registered"},
			ExtensionName: extension,
		})
	}

	for _, jobType := range jobTypes {
		var (
			componentName = "workload." + jobType.JobType
			requires      = jobType.Requires
			typeBinding   = consoletype.DeclarationStatus{Bound: true, Message: "Type ready"}
		)
		if requires == "" {
			requires = backend
		}

		if !slices.Contains(extensions, requires) {
			typeBinding = consoletype.DeclarationStatus{
				Err:     fmt.Errorf("error binding type %q: %w", componentName, &MissingExtensionError{Extension: requires}),
				Message: "Missing extension " + requires,
			}
		}

		registry.Bind(nextRef(ownerIDWorkload), &consoletype.TypeDeclaration{
			Binding:          typeBinding,
			ComponentName:    componentName,
			ComponentVersion: workloadComponentVersion,
			Public:           true,
			Requires:         requires,
		})

		instanceBinding := consoletype.DeclarationStatus{Bound: true, Message: "Instance running"}
		if !typeBinding.Bound {
			instanceBinding = consoletype.DeclarationStatus{
				Err:     fmt.Errorf("error creating instance: %w", typeBinding.Err),
				Message: "Type " + componentName + " is unbound",
			}
		}

		registry.Bind(nextRef(ownerIDWorkload), &consoletype.InstanceDeclaration{
			Binding:          instanceBinding,
			ComponentName:    componentName,
			ComponentVersion: workloadComponentVersion,
			Configuration: map[string]any{
				"batch_size": jobType.BatchSize,
				"fail_rate":  jobType.FailRate,
				"schedule":   jobType.Schedule,
				"work_max":   jobType.WorkMax,
				"work_min":   jobType.WorkMin,
			},
			InstanceName: jobType.JobType + "-0",
		})

		if instanceBinding.Bound {
			runnable = append(runnable, jobType)
		}
	}

	return runnable
}
