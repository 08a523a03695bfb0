package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// Spec — параметры запуска одного воркера.
type Spec struct {
	ID              int
	RunID           string
	ShmDir          string
	ReturnThreshold int
	LogLevel        slog.Level
}

// Args возвращает флаги скрытой команды worker.
func (s Spec) Args() []string {
	args := []string{
		"--id", strconv.Itoa(s.ID),
		"--run-id", s.RunID,
		"--log-level", s.LogLevel.String(),
	}
	if s.ShmDir != "" {
		args = append(args, "--shm-dir", s.ShmDir)
	}
	if s.ReturnThreshold > 0 {
		args = append(args, "--return-threshold", strconv.Itoa(s.ReturnThreshold))
	}
	return args
}

// Handle — запущенный воркер, каким его видит оркестратор.
type Handle struct {
	ID  int
	PID int

	// In — входящая очередь воркера; закрытие завершает его цикл.
	In io.WriteCloser

	// Out — очередь результатов, Logs — поток логов.
	// Оба нужно дочитать до EOF перед Wait.
	Out  io.Reader
	Logs io.Reader

	kill func() error
	wait func() error
}

// Kill принудительно останавливает воркер.
func (h *Handle) Kill() error {
	return h.kill()
}

// Wait ждёт завершения воркера.
func (h *Handle) Wait() error {
	return h.wait()
}

// Launcher запускает воркеры.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (*Handle, error)
}

// ProcessLauncher запускает воркер отдельным процессом.
type ProcessLauncher struct {
	// Path — исполняемый файл (default: текущий бинарник).
	Path string

	// Args — аргументы перед флагами Spec (default: ["worker"]).
	Args []string

	// Env — дополнительные переменные окружения.
	Env []string
}

// Launch реализует Launcher.
func (l *ProcessLauncher) Launch(_ context.Context, spec Spec) (*Handle, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}

	args := append([]string(nil), l.Args...)
	if len(args) == 0 {
		args = []string{"worker"}
	}
	args = append(args, spec.Args()...)

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), l.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdin: %w", spec.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdout: %w", spec.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stderr: %w", spec.ID, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", spec.ID, err)
	}

	return &Handle{
		ID:   spec.ID,
		PID:  cmd.Process.Pid,
		In:   stdin,
		Out:  stdout,
		Logs: stderr,
		kill: func() error {
			err := cmd.Process.Kill()
			if errors.Is(err, os.ErrProcessDone) {
				return nil
			}
			return err
		},
		wait: cmd.Wait,
	}, nil
}

// InProcessLauncher запускает воркер горутиной в текущем процессе.
//
// Потоки связаны через io.Pipe, протокол тот же, что у процессов.
// Kill закрывает потоки, но не может прервать уже выполняющуюся функцию.
type InProcessLauncher struct {
	Registry *Registry
}

// Launch реализует Launcher.
func (l *InProcessLauncher) Launch(ctx context.Context, spec Spec) (*Handle, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	logR, logW := io.Pipe()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() {
		err := Serve(ctx, ServeConfig{
			ID:              spec.ID,
			RunID:           spec.RunID,
			Registry:        l.Registry,
			In:              inR,
			Out:             outW,
			Logs:            logW,
			ShmDir:          spec.ShmDir,
			ReturnThreshold: spec.ReturnThreshold,
			LogLevel:        spec.LogLevel,
		})
		outW.Close()
		logW.Close()
		inR.Close()
		done <- err
	}()

	killed := make(chan struct{})
	var killOnce, waitOnce sync.Once
	var waitErr error

	return &Handle{
		ID:   spec.ID,
		PID:  os.Getpid(),
		In:   inW,
		Out:  outR,
		Logs: logR,
		kill: func() error {
			killOnce.Do(func() {
				close(killed)
				cancel()
				inR.CloseWithError(ErrKilled)
				outW.Close()
				logW.Close()
			})
			return nil
		},
		wait: func() error {
			waitOnce.Do(func() {
				select {
				case waitErr = <-done:
				case <-killed:
					waitErr = ErrKilled
				}
				cancel()
			})
			return waitErr
		},
	}, nil
}
