package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
)

// stderrTail is how much diagnostic output is kept per process.
const stderrTail = 4 << 10

// tailBuffer keeps the last size bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.size; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

// stage is one process of a pipeline.
type stage struct {
	name   string
	cmd    *exec.Cmd
	stderr *tailBuffer
}

func newStage(name string, cmd *exec.Cmd) stage {
	return stage{name: name, cmd: cmd, stderr: &tailBuffer{size: stderrTail}}
}

// failure describes a stage that exited unsuccessfully.
func (s stage) failure(err error) error {
	if tail := s.stderr.String(); tail != "" {
		return fmt.Errorf("%s: %w: %s", s.name, err, tail)
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

// pipeline is the standard output of the last of a chain of processes, each
// feeding the next through an OS pipe.
//
// Reading to EOF reaps every process; a non-zero exit anywhere replaces the
// EOF with an error naming the stage and the tail of its stderr. Close kills
// the processes and may be called concurrently with Read.
type pipeline struct {
	out    *os.File
	stages []stage
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
}

var _ io.ReadCloser = (*pipeline)(nil)

// startPipeline connects and starts stages. cancel must cancel the context
// the commands were created with. On error nothing is left running.
func startPipeline(cancel context.CancelFunc, stages ...stage) (*pipeline, error) {
	if len(stages) == 0 {
		cancel()
		return nil, errors.New("resolve: empty pipeline")
	}

	// Parent copies of the pipe ends are closed once every child holds its own.
	var parentEnds []*os.File
	closeParentEnds := func() {
		for _, f := range parentEnds {
			_ = f.Close()
		}
	}

	for i := range stages[:len(stages)-1] {
		r, w, err := os.Pipe()
		if err != nil {
			closeParentEnds()
			cancel()
			return nil, fmt.Errorf("resolve: pipe: %w", err)
		}
		stages[i].cmd.Stdout = w
		stages[i+1].cmd.Stdin = r
		parentEnds = append(parentEnds, r, w)
	}
	out, w, err := os.Pipe()
	if err != nil {
		closeParentEnds()
		cancel()
		return nil, fmt.Errorf("resolve: pipe: %w", err)
	}
	stages[len(stages)-1].cmd.Stdout = w
	parentEnds = append(parentEnds, w)

	for i, s := range stages {
		s.cmd.Stderr = s.stderr
		if err := s.cmd.Start(); err != nil {
			closeParentEnds()
			_ = out.Close()
			cancel()
			for _, started := range stages[:i] {
				_ = started.cmd.Wait()
			}
			return nil, fmt.Errorf("resolve: start %s: %w", s.name, err)
		}
	}
	closeParentEnds()

	return &pipeline{out: out, stages: stages, cancel: cancel}, nil
}

// Read implements io.Reader.
func (p *pipeline) Read(b []byte) (int, error) {
	n, err := p.out.Read(b)
	if err == nil {
		return n, nil
	}
	if p.closed.Load() {
		return n, io.EOF
	}
	if errors.Is(err, io.EOF) {
		if werr := p.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Close implements io.Closer.
func (p *pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.cancel()
		_ = p.out.Close()
		_ = p.wait()
	})
	return nil
}

// wait reaps every stage once. Exit errors after Close are expected and
// dropped.
func (p *pipeline) wait() error {
	p.waitOnce.Do(func() {
		var errs []error
		for _, s := range p.stages {
			if err := s.cmd.Wait(); err != nil && !p.closed.Load() {
				errs = append(errs, s.failure(err))
			}
		}
		p.cancel()
		if len(errs) > 0 {
			p.waitErr = fmt.Errorf("resolve: stream failed: %w", errors.Join(errs...))
		}
	})
	return p.waitErr
}
