// Package ssh starts the engine on a remote host and speaks the bridge
// protocol over the standard streams of an SSH session.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sshc "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/epidata/impl/process"
	"github.com/bascanada/epidata/pkg/log"
)

const stopGrace = 5 * time.Second

type Options struct {
	Name string `json:"name"`
	User string `json:"user"`
	Addr string `json:"addr"`

	PrivateKey string `json:"privateKey"`
	// KnownHosts enables host key verification against a known_hosts file.
	KnownHosts string `json:"knownHosts"`

	// Command is run as is on the remote host. When empty it is built from
	// the java options below.
	Command    string   `json:"command"`
	Java       string   `json:"java"`
	Classpath  string   `json:"classpath"`
	MainClass  string   `json:"mainClass"`
	EntryPoint string   `json:"entryPoint"`
	JVMArgs    []string `json:"jvmArgs"`

	StartTimeout time.Duration `json:"startTimeout"`
}

// RemoteCommand returns the shell command started on the remote host.
func (o Options) RemoteCommand() (string, error) {
	if strings.TrimSpace(o.Command) != "" {
		return o.Command, nil
	}
	if strings.TrimSpace(o.Classpath) == "" {
		return "", fmt.Errorf("%w: command or classpath is required for the ssh engine", bridge.ErrLaunch)
	}

	java := o.Java
	if java == "" {
		java = process.DefaultJava
	}
	mainClass := o.MainClass
	if mainClass == "" {
		mainClass = process.DefaultMainClass
	}
	entryPoint := o.EntryPoint
	if entryPoint == "" {
		entryPoint = process.DefaultEntryPoint
	}

	argv := []string{java}
	argv = append(argv, o.JVMArgs...)
	argv = append(argv, "-cp", o.Classpath, mainClass, entryPoint)
	return ArgsToString(argv), nil
}

// ClientConfig builds the SSH client configuration from the options.
func (o Options) ClientConfig() (*sshc.ClientConfig, error) {
	if o.Addr == "" {
		return nil, errors.New("ssh address (addr) is empty")
	}
	if o.User == "" {
		return nil, errors.New("ssh user (user) is empty")
	}

	privateKeyFile := o.PrivateKey
	if privateKeyFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		privateKeyFile = filepath.Join(home, ".ssh", "id_rsa")
	}

	key, err := os.ReadFile(privateKeyFile)
	if err != nil {
		return nil, err
	}
	signer, err := sshc.ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}

	hostKeyCallback := sshc.HostKeyCallback(func(hostname string, remote net.Addr, key sshc.PublicKey) error {
		return nil
	})
	if o.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(o.KnownHosts)
		if err != nil {
			return nil, err
		}
	}

	return &sshc.ClientConfig{
		User:            o.User,
		Auth:            []sshc.AuthMethod{sshc.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}, nil
}

// Launch dials the host, starts the engine and waits for it to be ready.
// The SSH connection belongs to the returned Conn.
func Launch(ctx context.Context, opts Options) (*bridge.Conn, error) {
	config, err := opts.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bridge.ErrLaunch, err)
	}

	client, err := sshc.Dial("tcp", opts.Addr, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bridge.ErrLaunch, err)
	}

	conn, err := open(ctx, client, opts, true)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Open starts the engine over an existing SSH connection, which stays owned
// by the caller.
func Open(ctx context.Context, client *sshc.Client, opts Options) (*bridge.Conn, error) {
	return open(ctx, client, opts, false)
}

func open(ctx context.Context, client *sshc.Client, opts Options, ownClient bool) (*bridge.Conn, error) {
	release := func() {
		if ownClient {
			_ = client.Close()
		}
	}

	cmd, err := opts.RemoteCommand()
	if err != nil {
		release()
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: failed to open session: %w", bridge.ErrLaunch, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		release()
		return nil, fmt.Errorf("%w: %w", bridge.ErrLaunch, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		release()
		return nil, fmt.Errorf("%w: %w", bridge.ErrLaunch, err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		release()
		return nil, fmt.Errorf("%w: %w", bridge.ErrLaunch, err)
	}

	name := opts.Name
	if name == "" {
		name = "ssh://" + opts.User + "@" + opts.Addr
	}

	log.Info("starting engine %s: %s", name, cmd)
	if err := session.Start(cmd); err != nil {
		_ = session.Close()
		release()
		return nil, fmt.Errorf("%w: failed to start remote command: %w", bridge.ErrLaunch, err)
	}

	go bridge.PumpLog(name, stderr)

	closer := &sessionCloser{session: session, stdin: stdin, name: name}
	if ownClient {
		closer.client = client
	}

	return bridge.Open(ctx, stdout, stdin, closer, bridge.ConnOptions{
		EntryPoint:   opts.EntryPoint,
		StartTimeout: opts.StartTimeout,
		Name:         name,
	})
}

type sessionCloser struct {
	session *sshc.Session
	stdin   io.Closer
	client  *sshc.Client
	name    string
	once    sync.Once
}

func (s *sessionCloser) Close() error {
	s.once.Do(func() {
		_ = s.stdin.Close()

		waited := make(chan error, 1)
		go func() { waited <- s.session.Wait() }()

		select {
		case err := <-waited:
			if err != nil {
				log.Debug("engine %s exited: %v", s.name, err)
			}
		case <-time.After(stopGrace):
			log.Warn("engine %s did not exit after %s, closing the session", s.name, stopGrace)
			_ = s.session.Signal(sshc.SIGKILL)
		}
		_ = s.session.Close()
		if s.client != nil {
			_ = s.client.Close()
		}
	})
	return nil
}

// shellEscape quotes s for the remote shell unless it only holds safe
// characters.
func shellEscape(s string) string {
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '_' || c == '-' || c == '.' || c == '/' || c == ':' || c == '=') {
			return false
		}
	}
	return true
}

// ArgsToString joins args into a single escaped command line.
func ArgsToString(args []string) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, shellEscape(arg))
	}
	return strings.Join(parts, " ")
}
