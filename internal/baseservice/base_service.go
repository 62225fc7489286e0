// Package baseservice provides the properties shared by the console's
// long-lived services, such as queues, proxies, bridges, and registries: a
// logger, a clock, and a name to identify the service in log lines.
package baseservice

import (
	"log/slog"
	"reflect"
	"strings"
	"time"
)

// Archetype holds the properties a service is initialized from. It's safe to
// share one archetype between any number of services, and it's embedded in
// BaseService so that its properties are available on services directly.
type Archetype struct {
	// Clock is the source of the current time. Durations measured for jobs
	// should always go through it so that tests can stub the time.
	Clock ClockWithStub

	// Logger is a structured logger.
	Logger *slog.Logger
}

// NewArchetype returns a new archetype with a clock reading the system's time.
func NewArchetype(logger *slog.Logger) *Archetype {
	return &Archetype{
		Clock:  &SystemClock{},
		Logger: logger,
	}
}

// BaseService is embedded on service-like structs. Services invoke Init with
// an archetype from their constructor.
type BaseService struct {
	Archetype

	// Name identifies the service, like `memqueue.Queue`. It's used to prefix
	// the service's log lines.
	Name string
}

func (s *BaseService) GetBaseService() *BaseService { return s }

// WithBaseService is implemented automatically by any struct embedding
// BaseService.
type WithBaseService interface {
	GetBaseService() *BaseService
}

// Init initializes a service's base service from an archetype and returns the
// service for convenience.
func Init[TService WithBaseService](archetype *Archetype, service TService) TService {
	baseService := service.GetBaseService()
	baseService.Clock = archetype.Clock
	baseService.Logger = archetype.Logger
	baseService.Name = serviceName(reflect.TypeOf(service).Elem())

	return service
}

// Clock returns the current time in UTC.
type Clock interface {
	NowUTC() time.Time
}

// ClockWithStub is a Clock whose time can be stubbed from tests.
type ClockWithStub interface {
	Clock

	// StubNowUTC stubs the current time and returns it. It panics on clocks
	// used outside of tests.
	StubNowUTC(nowUTC time.Time) time.Time
}

// SystemClock reads the system's time and can't be stubbed.
type SystemClock struct{}

func (c *SystemClock) NowUTC() time.Time { return time.Now().UTC() }

func (c *SystemClock) StubNowUTC(nowUTC time.Time) time.Time {
	panic("system clock can't be stubbed")
}

// Produces a service name qualified by its package, unless the service lives
// in the top-level package:
//
//   - riverconsole.Console -> "Console"
//   - memqueue.Queue       -> "memqueue.Queue"
func serviceName(serviceType reflect.Type) string {
	pkgPath := serviceType.PkgPath()

	lastSlashIndex := strings.LastIndex(pkgPath, "/")
	if lastSlashIndex == -1 {
		return serviceType.Name()
	}

	pkg := pkgPath[lastSlashIndex+1:]
	if pkg == "" || pkg == "riverconsole" {
		return serviceType.Name()
	}

	return pkg + "." + serviceType.Name()
}
