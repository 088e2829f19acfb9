package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RainStream/rainstream-server/internal/mediasoup"
	"github.com/RainStream/rainstream-server/internal/test"
)

func newCoreWorker(t *testing.T, pid int) *mediasoup.Worker {
	fw := test.NewFakeWorker(pid)
	producer, consumer, payloadProducer, payloadConsumer := fw.Conns()

	w, err := mediasoup.NewWorkerOnConns(&mediasoup.WorkerSettings{
		RequestTimeout: 2 * time.Second,
		Parent:         test.NilLogger,
	}, pid, producer, consumer, payloadProducer, payloadConsumer)
	require.NoError(t, err)

	t.Cleanup(func() {
		w.Close()
		fw.Close()
	})

	return w
}

func TestCoreWorkerRoundRobin(t *testing.T) {
	p := &Core{
		workers: []*mediasoup.Worker{
			newCoreWorker(t, 1001),
			newCoreWorker(t, 1002),
			newCoreWorker(t, 1003),
		},
	}

	seen := make(map[int]int)
	for i := 0; i < 9; i++ {
		seen[p.Worker().Pid()]++
	}

	require.Equal(t, map[int]int{1001: 3, 1002: 3, 1003: 3}, seen)
}
