package riverconsole

import "errors"

// ErrNoDeclarations is returned by a declaration report when the console wasn't
// configured with a declaration store.
var ErrNoDeclarations = errors.New("console has no declaration store configured")

// ErrNoEventSource is returned by a queue performance report when the console
// wasn't configured with a queue event source.
var ErrNoEventSource = errors.New("console has no queue event source configured")

// ErrNoQueueService is returned by a queue info report when the console wasn't
// configured with a queue service.
var ErrNoQueueService = errors.New("console has no queue service configured")
