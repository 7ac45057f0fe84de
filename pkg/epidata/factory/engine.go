// Package factory builds engine clients from configuration. Each configured
// engine is launched at most once, on first use, and stays open until the
// factory is closed.
package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/epidata/client"
	"github.com/bascanada/epidata/pkg/epidata/client/config"
	"github.com/bascanada/epidata/pkg/epidata/impl/process"
	"github.com/bascanada/epidata/pkg/epidata/impl/remote"
	"github.com/bascanada/epidata/pkg/epidata/impl/ssh"
	"github.com/bascanada/epidata/pkg/epidata/memory"
	"github.com/bascanada/epidata/pkg/log"
	"github.com/bascanada/epidata/pkg/ty"
)

// EngineFactory provides the client of a configured engine by name.
type EngineFactory interface {
	Get(name string) (*client.Client, error)
	// Names lists the configured engines in sorted order.
	Names() []string
	// Close closes every client built so far.
	Close() error
}

type engineFactory struct {
	clients ty.LazyMap[string, client.Client]
	names   []string

	mu     sync.Mutex
	opened []*client.Client
	closed bool
}

func (ef *engineFactory) Get(name string) (*client.Client, error) {
	ef.mu.Lock()
	closed := ef.closed
	ef.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("engine %s: %w", name, bridge.ErrClosed)
	}

	c, err := ef.clients.Get(name)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", name, err)
	}
	return c, nil
}

func (ef *engineFactory) Names() []string {
	return append([]string{}, ef.names...)
}

func (ef *engineFactory) Close() error {
	ef.mu.Lock()
	opened := ef.opened
	ef.opened = nil
	ef.closed = true
	ef.mu.Unlock()

	var errs []string
	for _, c := range opened {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", c.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close engines: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetEngineFactory returns a factory over the configured engines. ctx bounds
// the launch of the engines, not their lifetime.
func GetEngineFactory(ctx context.Context, engines config.Engines) (EngineFactory, error) {
	ef := &engineFactory{clients: make(ty.LazyMap[string, client.Client])}

	for name, engine := range engines {
		name, engine := name, engine
		ef.names = append(ef.names, name)
		ef.clients[name] = ty.GetLazy(func() (*client.Client, error) {
			gw, entryPoint, err := OpenGateway(ctx, name, engine)
			if err != nil {
				return nil, err
			}
			c := client.New(gw, client.Options{Name: name, EntryPoint: entryPoint, KeyFields: engine.KeyFields})

			ef.mu.Lock()
			if ef.closed {
				ef.mu.Unlock()
				// closed while launching
				_ = c.Close()
				return nil, bridge.ErrClosed
			}
			ef.opened = append(ef.opened, c)
			ef.mu.Unlock()
			return c, nil
		})
	}
	sort.Strings(ef.names)

	return ef, nil
}

// OpenGateway opens the transport of one engine. It returns the entry point
// the client must address.
func OpenGateway(ctx context.Context, name string, engine config.Engine) (client.Gateway, string, error) {
	options := engine.Options.ResolveVariables()
	entryPoint := options.GetString("entryPoint")

	startTimeout, _, err := options.GetDurationOk("startTimeout")
	if err != nil {
		return nil, "", err
	}

	log.Debug("opening engine %s of type %s", name, engine.Type)

	switch strings.ToLower(engine.Type) {
	case config.EngineProcess:
		command, _ := options.GetListOfStringsOk("command")
		jvmArgs, _ := options.GetListOfStringsOk("jvmArgs")
		if entryPoint == "" && len(command) == 0 {
			entryPoint = process.DefaultEntryPoint
		}
		conn, err := process.Launch(ctx, process.Options{
			Name:         name,
			Java:         options.GetString("java"),
			Classpath:    options.GetString("classpath"),
			MainClass:    options.GetString("mainClass"),
			EntryPoint:   entryPoint,
			JVMArgs:      jvmArgs,
			Command:      command,
			Env:          options.GetMS("env"),
			Dir:          options.GetString("dir"),
			StartTimeout: startTimeout,
		})
		if err != nil {
			return nil, "", err
		}
		return conn, entryPoint, nil

	case config.EngineSSH:
		jvmArgs, _ := options.GetListOfStringsOk("jvmArgs")
		conn, err := ssh.Launch(ctx, ssh.Options{
			Name:         name,
			User:         options.GetString("user"),
			Addr:         options.GetString("addr"),
			PrivateKey:   options.GetString("privateKey"),
			KnownHosts:   options.GetString("knownHosts"),
			Command:      options.GetString("command"),
			Java:         options.GetString("java"),
			Classpath:    options.GetString("classpath"),
			MainClass:    options.GetString("mainClass"),
			EntryPoint:   entryPoint,
			JVMArgs:      jvmArgs,
			StartTimeout: startTimeout,
		})
		if err != nil {
			return nil, "", err
		}
		return conn, entryPoint, nil

	case config.EngineRemote:
		timeout, _, err := options.GetDurationOk("timeout")
		if err != nil {
			return nil, "", err
		}
		insecure, _ := options.GetBoolOk("insecure")
		skipReady, _ := options.GetBoolOk("skipReady")
		gw, err := remote.Open(ctx, remote.Options{
			Endpoint:   options.GetString("endpoint"),
			Headers:    options.GetMS("headers"),
			EntryPoint: entryPoint,
			Insecure:   insecure,
			Timeout:    timeout,
			SkipReady:  skipReady,
		})
		if err != nil {
			return nil, "", err
		}
		return gw, entryPoint, nil

	case config.EngineMemory:
		keyFields := engine.KeyFields
		if data := options.GetString("data"); data != "" {
			e, err := memory.Load(data, keyFields)
			if err != nil {
				return nil, "", err
			}
			return e, entryPoint, nil
		}
		return memory.New(keyFields), entryPoint, nil
	}

	return nil, "", fmt.Errorf("engine %s: unknown type %q", name, engine.Type)
}
