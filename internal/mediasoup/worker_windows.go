//go:build windows

package mediasoup

import "fmt"

// NewWorker is not available on Windows, where socket pairs cannot be
// passed to a subprocess. Use NewWorkerOnConns instead.
func NewWorker(_ *WorkerSettings) (*Worker, error) {
	return nil, fmt.Errorf("subprocess workers are not supported on windows")
}
