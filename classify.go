package svctl

import "strings"

// Kind is the classification of a process by its name
type Kind int

const (
	// KindOther covers web, scheduler and every other non-queue process
	KindOther Kind = iota
	// KindWorker is a queue consumer subject to worker shutdown policy
	KindWorker
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	if k == KindWorker {
		return "worker"
	}
	return "other"
}

// workerIdentifiers are the name fragments that mark a queue consumer.
// Matching is case-insensitive and substring based.
var workerIdentifiers = []string{"-worker", "worker-", "_worker", "worker_"}

// Classify maps a process name to its Kind. It is pure and total.
func Classify(name string) Kind {
	lower := strings.ToLower(name)
	for _, id := range workerIdentifiers {
		if strings.Contains(lower, id) {
			return KindWorker
		}
	}
	return KindOther
}

// IsWorker reports whether name classifies as a worker process
func IsWorker(name string) bool {
	return Classify(name) == KindWorker
}
