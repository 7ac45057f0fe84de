package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sshc "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/epidata/memory"
	"github.com/bascanada/epidata/pkg/ty"
)

type testServer struct {
	addr       string
	hostKey    sshc.PublicKey
	keyFile    string
	mu         sync.Mutex
	commands   []string
	listener   net.Listener
	engine     *memory.Engine
	authorized sshc.PublicKey
}

func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.commands...)
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := sshc.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	_, userPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	userSigner, err := sshc.NewSignerFromKey(userPriv)
	require.NoError(t, err)
	block, err := sshc.MarshalPrivateKey(userPriv, "")
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(block), 0o600))

	s := &testServer{
		hostKey:    hostSigner.PublicKey(),
		keyFile:    keyFile,
		authorized: userSigner.PublicKey(),
		engine: memory.New(nil,
			ty.MI{"ts": json.Number("1000"), "company": "Company-1", "site": "Site-1", "device_group": "1000", "tester": "Station-1"},
		),
	}

	config := &sshc.ServerConfig{
		PublicKeyCallback: func(conn sshc.ConnMetadata, key sshc.PublicKey) (*sshc.Permissions, error) {
			if string(key.Marshal()) == string(s.authorized.Marshal()) {
				return nil, nil
			}
			return nil, assert.AnError
		},
	}
	config.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = l
	s.addr = l.Addr().String()
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			nConn, err := l.Accept()
			if err != nil {
				return
			}
			go s.handle(nConn, config)
		}
	}()
	return s
}

func (s *testServer) handle(nConn net.Conn, config *sshc.ServerConfig) {
	_, chans, reqs, err := sshc.NewServerConn(nConn, config)
	if err != nil {
		return
	}
	go sshc.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(sshc.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = sshc.Unmarshal(req.Payload, &payload)
				s.mu.Lock()
				s.commands = append(s.commands, payload.Command)
				s.mu.Unlock()
				_ = req.Reply(true, nil)

				go func() {
					_, _ = channel.Stderr().Write([]byte("[WARN] remote engine starting\n"))
					_ = bridge.Serve(context.Background(), channel, channel, s.engine.Ready(), s.engine)
					_, _ = channel.SendRequest("exit-status", false, sshc.Marshal(struct{ Status uint32 }{0}))
					_ = channel.Close()
				}()
			}
		}()
	}
}

func TestLaunchAndInvoke(t *testing.T) {
	s := startServer(t)

	conn, err := Launch(context.Background(), Options{
		User:         "epidata",
		Addr:         s.addr,
		PrivateKey:   s.keyFile,
		Classpath:    "/opt/epidata/epidata-spark-assembly-1.0-SNAPSHOT.jar",
		StartTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	records, err := conn.Invoke(context.Background(), bridge.Invocation{Method: bridge.MethodListKeys})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Company-1", records[0]["company"])

	require.NoError(t, conn.Close())
	_, err = conn.Invoke(context.Background(), bridge.Invocation{Method: bridge.MethodListKeys})
	assert.ErrorIs(t, err, bridge.ErrClosed)

	assert.Equal(t, []string{
		"java -cp /opt/epidata/epidata-spark-assembly-1.0-SNAPSHOT.jar com.epidata.spark.bridge.BridgeMain com.epidata.spark.EpidataLiteContext",
	}, s.Commands())
}

func TestLaunchWithKnownHosts(t *testing.T) {
	s := startServer(t)

	knownHostsFile := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{s.addr}, s.hostKey)
	require.NoError(t, os.WriteFile(knownHostsFile, []byte(line+"\n"), 0o600))

	conn, err := Launch(context.Background(), Options{
		User:         "epidata",
		Addr:         s.addr,
		PrivateKey:   s.keyFile,
		KnownHosts:   knownHostsFile,
		Command:      "epidata engine --data /srv/measurements.json",
		StartTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, []string{"epidata engine --data /srv/measurements.json"}, s.Commands())
}

func TestLaunchRejectsUnknownHostKey(t *testing.T) {
	s := startServer(t)

	knownHostsFile := filepath.Join(t.TempDir(), "known_hosts")
	_, other, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherSigner, err := sshc.NewSignerFromKey(other)
	require.NoError(t, err)
	line := knownhosts.Line([]string{s.addr}, otherSigner.PublicKey())
	require.NoError(t, os.WriteFile(knownHostsFile, []byte(line+"\n"), 0o600))

	_, err = Launch(context.Background(), Options{
		User:       "epidata",
		Addr:       s.addr,
		PrivateKey: s.keyFile,
		KnownHosts: knownHostsFile,
		Command:    "epidata engine",
	})
	assert.ErrorIs(t, err, bridge.ErrLaunch)
}

func TestOptionsValidation(t *testing.T) {
	_, err := Options{User: "u"}.ClientConfig()
	assert.EqualError(t, err, "ssh address (addr) is empty")

	_, err = Options{Addr: "host:22"}.ClientConfig()
	assert.EqualError(t, err, "ssh user (user) is empty")

	_, err = Options{Addr: "host:22", User: "u", PrivateKey: filepath.Join(t.TempDir(), "missing")}.ClientConfig()
	assert.Error(t, err)

	_, err = Launch(context.Background(), Options{User: "u"})
	assert.ErrorIs(t, err, bridge.ErrLaunch)

	_, err = Options{}.RemoteCommand()
	assert.ErrorIs(t, err, bridge.ErrLaunch)
}

func TestRemoteCommand(t *testing.T) {
	cmd, err := Options{
		Java:      "/usr/lib/jvm/bin/java",
		Classpath: "/opt/my engine/engine.jar",
		JVMArgs:   []string{"-Xmx4g", "-Dspark.master=local[*]"},
	}.RemoteCommand()
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/jvm/bin/java -Xmx4g '-Dspark.master=local[*]' -cp '/opt/my engine/engine.jar' com.epidata.spark.bridge.BridgeMain com.epidata.spark.EpidataLiteContext", cmd)
}

func TestShellEscape(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"/opt/engine.jar", "/opt/engine.jar"},
		{"-Xmx2g", "-Xmx2g"},
		{"", "''"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"a; rm -rf /", "'a; rm -rf /'"},
		{"`whoami`", "'`whoami`'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, shellEscape(tt.input), tt.input)
	}
}
