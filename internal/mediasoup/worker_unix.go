//go:build !windows

package mediasoup

import (
	"bufio"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// NewWorker spawns a media worker subprocess with the channel sockets
// wired as file descriptors 3 to 6, and waits until the worker reports
// itself as running.
func NewWorker(settings *WorkerSettings) (*Worker, error) {
	settings.fillDefaults()

	if settings.WorkerBin == "" {
		return nil, NewTypeError("missing worker binary path")
	}

	var pairs [4][2]*os.File
	for i := range pairs {
		pair, err := createSocketPair()
		if err != nil {
			return nil, err
		}
		pairs[i] = pair
	}

	var conns [4]net.Conn
	for i, pair := range pairs {
		conn, err := fileToConn(pair[0])
		if err != nil {
			return nil, err
		}
		conns[i] = conn
	}

	child := exec.Command(settings.WorkerBin, settings.args()...)

	// fd 3: channel producer, fd 4: channel consumer,
	// fd 5: payload channel producer, fd 6: payload channel consumer
	child.ExtraFiles = []*os.File{pairs[0][1], pairs[1][1], pairs[2][1], pairs[3][1]}
	child.Env = os.Environ()

	stdout, err := child.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := child.StderrPipe()
	if err != nil {
		return nil, err
	}

	if settings.Parent != nil {
		settings.Parent.Log(logger.Debug, "spawning worker process: %s %s",
			settings.WorkerBin, strings.Join(settings.args(), " "))
	}

	err = child.Start()
	if err != nil {
		return nil, err
	}

	pid := child.Process.Pid

	go forwardWorkerOutput(settings.Parent, stdout, logger.Debug, "(stdout)")
	go forwardWorkerOutput(settings.Parent, stderr, logger.Error, "(stderr)")

	// the parent keeps the producing ends; the child inherited dups
	for _, pair := range pairs {
		pair[1].Close() //nolint:errcheck
	}

	return newWorker(settings, pid, child, conns[0], conns[1], conns[2], conns[3])
}

func forwardWorkerOutput(parent logger.Writer, r io.Reader, level logger.Level, prefix string) {
	if parent == nil {
		return
	}

	br := bufio.NewReader(r)
	for {
		line, _, err := br.ReadLine()
		if err != nil {
			return
		}
		parent.Log(level, "%s %s", prefix, line)
	}
}

func createSocketPair() (files [2]*os.File, err error) {
	fds, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM, 0)
	if err != nil {
		return
	}
	files[0] = os.NewFile(uintptr(fds[0]), "")
	files[1] = os.NewFile(uintptr(fds[1]), "")
	return
}

func fileToConn(file *os.File) (net.Conn, error) {
	defer file.Close()

	return net.FileConn(file)
}
