package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/segmentio/encoding/json"

	"github.com/tetratelabs/thunkpool"
	"github.com/tetratelabs/thunkpool/internal/asm"
	"github.com/tetratelabs/thunkpool/internal/geometry"
	"github.com/tetratelabs/thunkpool/internal/thunkgen"
	"github.com/tetratelabs/thunkpool/internal/version"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut io.Writer, stdErr io.Writer, exit func(code int)) {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "print usage")

	var verbose bool
	flag.BoolVar(&verbose, "v", false, "log at debug level")

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a TOML file with the keys strategy, log_level and count")

	flag.Parse()

	if help || flag.NArg() == 0 {
		printUsage(stdErr)
		exit(0)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(stdErr, err)
		exit(1)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	subCmd := flag.Arg(0)
	switch subCmd {
	case "geometry":
		doGeometry(flag.Args()[1:], stdOut, stdErr, exit)
	case "allocate":
		doAllocate(flag.Args()[1:], cfg, stdOut, stdErr, exit)
	case "dump":
		doDump(flag.Args()[1:], stdOut, stdErr, exit)
	case "version":
		fmt.Fprintln(stdOut, version.GetVersion())
		exit(0)
	default:
		fmt.Fprintln(stdErr, "invalid command")
		printUsage(stdErr)
		exit(1)
	}
}

type geometryOutput struct {
	Arch             string `json:"arch"`
	PageSize         int    `json:"page_size"`
	PointerSize      int    `json:"pointer_size"`
	ThunkSize        int    `json:"thunk_size"`
	ThunksPerBlock   int    `json:"thunks_per_block"`
	BlocksPerMapping int    `json:"blocks_per_mapping"`
	MappingSize      int    `json:"mapping_size"`
}

func doGeometry(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("geometry", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var asJSON bool
	flags.BoolVar(&asJSON, "json", false, "print JSON")
	arch := flags.String("arch", runtime.GOARCH, "GOARCH to lay out thunks for")
	pageSize := flags.Int("page", os.Getpagesize(), "page size in bytes")

	_ = flags.Parse(args)

	l, err := layout(*arch, *pageSize)
	if err != nil {
		fmt.Fprintln(stdErr, err)
		exit(1)
	}
	out := geometryOutput{
		Arch:             l.Arch.String(),
		PageSize:         l.PageSize,
		PointerSize:      l.PointerSize,
		ThunkSize:        l.ThunkSize,
		ThunksPerBlock:   l.ThunksPerBlock,
		BlocksPerMapping: l.BlocksPerMapping,
		MappingSize:      l.MappingSize,
	}
	if asJSON {
		writeJSON(stdOut, stdErr, out, exit)
	} else {
		fmt.Fprintf(stdOut, "arch:               %s\n", out.Arch)
		fmt.Fprintf(stdOut, "page size:          %d\n", out.PageSize)
		fmt.Fprintf(stdOut, "pointer size:       %d\n", out.PointerSize)
		fmt.Fprintf(stdOut, "thunk size:         %d\n", out.ThunkSize)
		fmt.Fprintf(stdOut, "thunks per block:   %d\n", out.ThunksPerBlock)
		fmt.Fprintf(stdOut, "blocks per mapping: %d\n", out.BlocksPerMapping)
		fmt.Fprintf(stdOut, "mapping size:       %d\n", out.MappingSize)
	}
	exit(0)
}

type mappingOutput struct {
	ID    int    `json:"id"`
	Stubs string `json:"stubs"`
	Data  string `json:"data"`
}

func doAllocate(args []string, cfg *fileConfig, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("allocate", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var asJSON bool
	flags.BoolVar(&asJSON, "json", false, "print JSON")
	count := flags.Int("n", cfg.Count, "number of mappings to allocate")
	strategyName := flags.String("strategy", cfg.Strategy, "codegen or template; defaults to the strategy of the build")

	_ = flags.Parse(args)

	logger, err := cfg.newLogger(stdErr)
	if err != nil {
		fmt.Fprintf(stdErr, "invalid log level: %v\n", err)
		exit(1)
	}
	defer logger.Sync() //nolint

	c := thunkpool.NewConfig().WithLogger(logger)
	if *strategyName != "" {
		s, err := thunkpool.ParseStrategy(*strategyName)
		if err != nil {
			fmt.Fprintln(stdErr, err)
			exit(1)
		}
		c = c.WithStrategy(s)
	}
	if c.Strategy() == thunkpool.StrategyFixedPool {
		fmt.Fprintln(stdErr, "strategy fixedpool needs precompiled stubs, which the CLI does not have")
		exit(1)
	}

	a := thunkpool.New(c)
	var mappings []mappingOutput
	for i := 0; i < *count; i++ {
		m, err := a.AllocateThunkMapping()
		if err != nil {
			fmt.Fprintf(stdErr, "error allocating thunk mapping: %v\n", err)
			exit(1)
		}
		mappings = append(mappings, mappingOutput{
			ID:    m.ID(),
			Stubs: fmt.Sprintf("%#x", m.StubAddr()),
			Data:  fmt.Sprintf("%#x", m.DataAddr()),
		})
	}
	if asJSON {
		writeJSON(stdOut, stdErr, mappings, exit)
	} else {
		for _, m := range mappings {
			fmt.Fprintf(stdOut, "mapping %d: stubs %s data %s\n", m.ID, m.Stubs, m.Data)
		}
	}
	exit(0)
}

// dumpBase is the synthetic address of the stubs printed by dump.
const dumpBase = uintptr(0x10000)

func doDump(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("dump", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var pic bool
	flags.BoolVar(&pic, "pic", false, "use the position independent encoder")
	arch := flags.String("arch", runtime.GOARCH, "GOARCH to encode thunks for")
	pageSize := flags.Int("page", os.Getpagesize(), "page size in bytes")
	count := flags.Int("n", 4, "number of thunks of the first block to print")

	_ = flags.Parse(args)

	l, err := layout(*arch, *pageSize)
	if err != nil {
		fmt.Fprintln(stdErr, err)
		exit(1)
	}
	if pic && !thunkgen.HasPositionIndependent(l.Arch) {
		fmt.Fprintf(stdErr, "%s has no position independent encoder\n", l.Arch)
		exit(1)
	}
	if *count < 1 || *count > l.ThunksPerBlock {
		fmt.Fprintf(stdErr, "n must be between 1 and %d\n", l.ThunksPerBlock)
		exit(1)
	}

	enc := thunkgen.Encoder(l.Arch, pic)
	dataBase := dumpBase + uintptr(l.MappingSize)
	code := make([]byte, l.ThunkSize)
	buf := asm.NewBuffer(nil)
	for slot := 0; slot < *count; slot++ {
		off := l.ThunkOffset(0, slot)
		buf.Reset(code)
		enc.Encode(buf, asm.Thunk{
			Addr:         dumpBase + uintptr(off),
			Data:         dataBase + uintptr(l.DataSlotOffset(0, slot)),
			Displacement: l.Displacement(slot),
		})
		fmt.Fprintf(stdOut, "%04x  % x\n", off, buf.Bytes())
	}
	exit(0)
}

// layout returns the geometry of goarch, or an error where New would panic.
func layout(goarch string, pageSize int) (l geometry.Layout, err error) {
	arch := geometry.ParseArch(goarch)
	if arch == geometry.ArchUnknown {
		return l, fmt.Errorf("no thunk encoding for architecture %q", goarch)
	}
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errors.New(fmt.Sprint(r))
			}
		}
	}()
	return geometry.New(arch, pageSize), nil
}

func writeJSON(stdOut, stdErr io.Writer, v interface{}, exit func(code int)) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stdErr, "error encoding JSON: %v\n", err)
		exit(1)
	}
	fmt.Fprintln(stdOut, string(b))
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "thunkpool CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  thunkpool [-config file.toml] [-v] <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  geometry\tPrints how thunks are laid out")
	fmt.Fprintln(stdErr, "  allocate\tAllocates thunk mappings in this process")
	fmt.Fprintln(stdErr, "  dump\t\tPrints encoded thunks")
	fmt.Fprintln(stdErr, "  version\tDisplays the version of thunkpool CLI")
}
