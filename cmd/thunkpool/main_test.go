package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/thunkpool/internal/version"
)

func TestHelp(t *testing.T) {
	exitCode, _, stdErr := runMain(t, []string{"-h"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdErr, "thunkpool CLI\n\nUsage:")
}

func TestVersion(t *testing.T) {
	exitCode, stdOut, _ := runMain(t, []string{"version"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, version.GetVersion()+"\n", stdOut)
}

func TestGeometry(t *testing.T) {
	exitCode, stdOut, stdErr := runMain(t, []string{"geometry", "-arch", "amd64", "-page", "4096"})
	require.Equal(t, 0, exitCode, stdErr)
	require.Equal(t, `arch:               amd64
page size:          4096
pointer size:       8
thunk size:         20
thunks per block:   204
blocks per mapping: 8
mapping size:       32768
`, stdOut)

	exitCode, stdOut, stdErr = runMain(t, []string{"geometry", "-json", "-arch", "arm64", "-page", "16384"})
	require.Equal(t, 0, exitCode, stdErr)
	var out geometryOutput
	require.NoError(t, json.Unmarshal([]byte(stdOut), &out))
	require.Equal(t, geometryOutput{
		Arch:             "arm64",
		PageSize:         16384,
		PointerSize:      8,
		ThunkSize:        16,
		ThunksPerBlock:   1023,
		BlocksPerMapping: 2,
		MappingSize:      32768,
	}, out)
}

func TestDump(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		stdOut string
	}{
		{
			name: "amd64",
			args: []string{"dump", "-arch", "amd64", "-page", "4096", "-n", "2"},
			stdOut: "0000  49 ba 00 80 01 00 00 00 00 00 41 ff a2 f8 0f 00 00 90 90 90\n" +
				"0014  49 ba 10 80 01 00 00 00 00 00 41 ff a2 e8 0f 00 00 90 90 90\n",
		},
		{
			name:   "arm64",
			args:   []string{"dump", "-arch", "arm64", "-page", "4096", "-n", "1", "-pic"},
			stdOut: "0000  10 00 04 10 11 fe 47 f9 20 02 1f d6 00 00 3e d4\n",
		},
	}
	for _, tc := range tests {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			exitCode, stdOut, stdErr := runMain(t, tt.args)
			require.Equal(t, 0, exitCode, stdErr)
			require.Equal(t, tt.stdOut, stdOut)
		})
	}
}

func TestAllocate(t *testing.T) {
	if runtime.GOOS != "linux" || (runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64") {
		t.Skip("allocates executable memory natively")
	}
	for _, strategy := range []string{"codegen", "template"} {
		strategy := strategy
		t.Run(strategy, func(t *testing.T) {
			exitCode, stdOut, stdErr := runMain(t, []string{"allocate", "-json", "-n", "2", "-strategy", strategy})
			require.Equal(t, 0, exitCode, stdErr)
			var out []mappingOutput
			require.NoError(t, json.Unmarshal([]byte(stdOut), &out))
			require.Len(t, out, 2)
			require.Equal(t, 1, out[1].ID)
			require.NotEqual(t, out[0].Stubs, out[1].Stubs)
		})
	}

	configPath := filepath.Join(t.TempDir(), "thunkpool.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("strategy = \"codegen\"\nlog_level = \"debug\"\ncount = 3\n"), 0o600))
	exitCode, stdOut, stdErr := runMain(t, []string{"-config", configPath, "allocate"})
	require.Equal(t, 0, exitCode, stdErr)
	require.Equal(t, 3, bytes.Count([]byte(stdOut), []byte("mapping ")))
	require.Contains(t, stdErr, "generated thunk mapping")
}

func TestErrors(t *testing.T) {
	badConfig := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(badConfig, []byte("count = \"three\""), 0o600))
	zeroCount := filepath.Join(t.TempDir(), "zero.toml")
	require.NoError(t, os.WriteFile(zeroCount, []byte("count = 0"), 0o600))

	tests := []struct {
		message string
		args    []string
	}{
		{message: "invalid command", args: []string{"frobnicate"}},
		{message: `no thunk encoding for architecture "mips"`, args: []string{"geometry", "-arch", "mips"}},
		{message: "thunkpool: invalid page size 1000", args: []string{"geometry", "-arch", "amd64", "-page", "1000"}},
		{message: "386 has no position independent encoder", args: []string{"dump", "-arch", "386", "-page", "4096", "-pic"}},
		{message: "n must be between 1 and 204", args: []string{"dump", "-arch", "amd64", "-page", "4096", "-n", "205"}},
		{message: "failed to read config file", args: []string{"-config", filepath.Join(t.TempDir(), "missing.toml"), "version"}},
		{message: "failed to parse config file", args: []string{"-config", badConfig, "version"}},
		{message: "count must be positive, was 0", args: []string{"-config", zeroCount, "version"}},
		{message: `unknown strategy "jit"`, args: []string{"allocate", "-strategy", "jit"}},
		{message: "strategy fixedpool needs precompiled stubs", args: []string{"allocate", "-strategy", "fixedpool"}},
	}
	for _, tc := range tests {
		tt := tc
		t.Run(tt.message, func(t *testing.T) {
			exitCode, _, stdErr := runMain(t, tt.args)
			require.Equal(t, 1, exitCode)
			require.Contains(t, stdErr, tt.message)
		})
	}
}

func runMain(t *testing.T, args []string) (int, string, string) {
	t.Helper()
	oldArgs := os.Args
	t.Cleanup(func() {
		os.Args = oldArgs
	})
	os.Args = append([]string{"thunkpool"}, args...)

	var exitCode int
	stdOut := &bytes.Buffer{}
	stdErr := &bytes.Buffer{}
	var exited bool
	func() {
		defer func() {
			if r := recover(); r != nil {
				exited = true
			}
		}()
		flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
		doMain(stdOut, stdErr, func(code int) {
			exitCode = code
			panic(code)
		})
	}()

	require.True(t, exited)

	return exitCode, stdOut.String(), stdErr.String()
}
