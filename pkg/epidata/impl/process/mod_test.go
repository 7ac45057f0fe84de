package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/epidata/memory"
	"github.com/bascanada/epidata/pkg/ty"
)

// TestHelperProcess is not a real test: it is the engine started by the
// tests below, serving the memory engine on its standard streams.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	switch os.Getenv("HELPER_MODE") {
	case "crash":
		fmt.Fprintln(os.Stderr, "[ERROR] could not load engine classes")
		os.Exit(3)
	case "mute":
		time.Sleep(10 * time.Second)
		return
	}

	fmt.Println("banner printed by the launcher")
	fmt.Fprintln(os.Stderr, "[WARN] running with the in-memory engine")

	e := memory.New(nil,
		ty.MI{"ts": json.Number("1000"), "company": "Company-1", "site": "Site-1", "device_group": "1000", "tester": "Station-1", "meas_value": json.Number("1.5")},
		ty.MI{"ts": json.Number("2000"), "company": "Company-1", "site": "Site-2", "device_group": "1000", "tester": "Station-1", "meas_value": json.Number("2.5")},
	)
	if err := bridge.Serve(context.Background(), os.Stdin, os.Stdout, e.Ready(), e); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func helperOptions(mode string) Options {
	return Options{
		Name:         "helper",
		Command:      []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		Env:          map[string]string{"GO_WANT_HELPER_PROCESS": "1", "HELPER_MODE": mode},
		EntryPoint:   DefaultEntryPoint,
		StartTimeout: 5 * time.Second,
	}
}

func TestLaunchAndInvoke(t *testing.T) {
	conn, err := Launch(context.Background(), helperOptions(""))
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, DefaultEntryPoint, conn.Ready().EntryPoint)

	begin, end := int64(0), int64(1500)
	records, err := conn.Invoke(context.Background(), bridge.Invocation{
		Method:     bridge.MethodQuery,
		FieldQuery: map[string][]string{"company": {"Company-1"}},
		BeginTime:  &begin,
		EndTime:    &end,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Site-1", records[0]["site"])

	keys, err := conn.Invoke(context.Background(), bridge.Invocation{Method: bridge.MethodListKeys})
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	_, err = conn.Invoke(context.Background(), bridge.Invocation{Method: "nope"})
	var remote *bridge.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "UNKNOWN_METHOD", remote.Code)
}

func TestCloseStopsEngine(t *testing.T) {
	conn, err := Launch(context.Background(), helperOptions(""))
	require.NoError(t, err)

	require.NoError(t, conn.Close())

	_, err = conn.Invoke(context.Background(), bridge.Invocation{Method: bridge.MethodListKeys})
	assert.ErrorIs(t, err, bridge.ErrClosed)
}

func TestLaunchEngineExitsBeforeReady(t *testing.T) {
	_, err := Launch(context.Background(), helperOptions("crash"))
	assert.ErrorIs(t, err, bridge.ErrLaunch)
}

func TestLaunchStartTimeout(t *testing.T) {
	opts := helperOptions("mute")
	opts.StartTimeout = 200 * time.Millisecond

	start := time.Now()
	_, err := Launch(context.Background(), opts)
	assert.ErrorIs(t, err, bridge.ErrLaunch)
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestLaunchEntryPointMismatch(t *testing.T) {
	opts := helperOptions("")
	opts.EntryPoint = "com.example.Other"

	_, err := Launch(context.Background(), opts)
	assert.ErrorIs(t, err, bridge.ErrLaunch)
}

func TestLaunchFailures(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "engine.jar")
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0o644))

	cases := map[string]Options{
		"missing classpath":  {},
		"missing artifact":   {Classpath: filepath.Join(dir, "absent.jar")},
		"missing launcher":   {Classpath: jar, Java: filepath.Join(dir, "no-such-java")},
		"missing executable": {Command: []string{"epidata-no-such-engine-binary"}},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Launch(context.Background(), opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, bridge.ErrLaunch), "got %v", err)
		})
	}
}

func TestArgv(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "epidata-spark-assembly-1.0-SNAPSHOT.jar")
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0o644))

	argv, err := Options{Classpath: jar, JVMArgs: []string{"-Xmx2g"}}.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"java", "-Xmx2g", "-cp", jar, DefaultMainClass, DefaultEntryPoint}, argv)

	wildcard := jar + string(os.PathListSeparator) + filepath.Join(dir, "lib", "*")
	argv, err = Options{Java: "/opt/jdk/bin/java", Classpath: wildcard, MainClass: "a.Main", EntryPoint: "a.Entry"}.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/jdk/bin/java", "-cp", wildcard, "a.Main", "a.Entry"}, argv)

	argv, err = Options{Command: []string{"epidata", "engine"}}.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"epidata", "engine"}, argv)
}
