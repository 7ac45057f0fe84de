// Package process launches the engine artifact as a child process and
// speaks the bridge protocol over its standard streams.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/log"
)

const (
	// DefaultJava is the launcher used when none is configured.
	DefaultJava = "java"
	// DefaultMainClass hosts the bridge inside the engine artifact.
	DefaultMainClass = "com.epidata.spark.bridge.BridgeMain"
	// DefaultEntryPoint is the engine object whose operations are invoked.
	DefaultEntryPoint = "com.epidata.spark.EpidataLiteContext"

	stopGrace = 5 * time.Second
)

// Options describes how to start the engine.
type Options struct {
	Name string
	// Java is the JVM launcher.
	Java string
	// Classpath points at the packaged engine artifact.
	Classpath  string
	MainClass  string
	EntryPoint string
	JVMArgs    []string
	// Command replaces the java invocation with any executable that speaks
	// the bridge protocol on its standard streams.
	Command      []string
	Env          map[string]string
	Dir          string
	StartTimeout time.Duration
}

func (o Options) entryPoint() string {
	if o.EntryPoint != "" {
		return o.EntryPoint
	}
	return DefaultEntryPoint
}

// Argv returns the command line used to start the engine.
func (o Options) Argv() ([]string, error) {
	if len(o.Command) > 0 {
		return append([]string{}, o.Command...), nil
	}

	if strings.TrimSpace(o.Classpath) == "" {
		return nil, fmt.Errorf("%w: classpath is missing for the process engine", bridge.ErrLaunch)
	}
	for _, entry := range filepath.SplitList(o.Classpath) {
		if entry == "" || strings.HasSuffix(entry, "*") {
			continue
		}
		if _, err := os.Stat(entry); err != nil {
			return nil, fmt.Errorf("%w: engine artifact not found: %w", bridge.ErrLaunch, err)
		}
	}

	java := o.Java
	if java == "" {
		java = DefaultJava
	}
	mainClass := o.MainClass
	if mainClass == "" {
		mainClass = DefaultMainClass
	}

	argv := []string{java}
	argv = append(argv, o.JVMArgs...)
	argv = append(argv, "-cp", o.Classpath, mainClass, o.entryPoint())
	return argv, nil
}

// Launch starts the engine and returns the bridge once the engine reported
// ready. ctx bounds the start only; the process lives until the Conn is closed.
func Launch(ctx context.Context, opts Options) (*bridge.Conn, error) {
	argv, err := opts.Argv()
	if err != nil {
		return nil, err
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bridge.ErrLaunch, err)
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create stdin pipe: %w", bridge.ErrLaunch, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: failed to create stdout pipe: %w", bridge.ErrLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: failed to create stderr pipe: %w", bridge.ErrLaunch, err)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}

	log.Info("starting engine %s: %s", name, strings.Join(argv, " "))
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: failed to start process: %w", bridge.ErrLaunch, err)
	}

	go bridge.PumpLog(name, stderr)

	return bridge.Open(ctx, stdout, stdin, &processCloser{cmd: cmd, stdin: stdin, name: name}, bridge.ConnOptions{
		EntryPoint:   opts.EntryPoint,
		StartTimeout: opts.StartTimeout,
		Name:         name,
	})
}

// processCloser closes the engine stdin, which asks it to exit, and kills
// it when it does not within stopGrace.
type processCloser struct {
	cmd   *exec.Cmd
	stdin io.Closer
	name  string
	once  sync.Once
	err   error
}

func (p *processCloser) Close() error {
	p.once.Do(func() {
		_ = p.stdin.Close()

		waited := make(chan error, 1)
		go func() { waited <- p.cmd.Wait() }()

		select {
		case err := <-waited:
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				p.err = err
			}
		case <-time.After(stopGrace):
			log.Warn("engine %s did not exit after %s, killing it", p.name, stopGrace)
			p.err = p.cmd.Process.Kill()
			<-waited
		}
		log.Debug("engine %s stopped", p.name)
	})
	return p.err
}
