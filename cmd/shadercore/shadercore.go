package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/kballard/go-shellquote"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shadercore/shadercore"
	"github.com/shadercore/shadercore/internal/version"
)

// flagsEnv holds options prepended to the arguments of every subcommand, split like a shell does.
const flagsEnv = "SHADERCORE_FLAGS"

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut io.Writer, stdErr io.Writer, exit func(code int)) {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "print usage")

	flag.Parse()

	if help || flag.NArg() == 0 {
		printUsage(stdErr)
		exit(0)
	}

	subCmd := flag.Arg(0)
	switch subCmd {
	case "compile":
		doCompile(envArgs(stdErr, exit, flag.Args()[1:]), stdOut, stdErr, exit)
	case "demand":
		doDemand(envArgs(stdErr, exit, flag.Args()[1:]), stdOut, stdErr, exit)
	case "version":
		fmt.Fprintln(stdOut, version.GetShadercoreVersion())
		exit(0)
	default:
		fmt.Fprintln(stdErr, "invalid command")
		printUsage(stdErr)
		exit(1)
	}
}

// envArgs prepends the options of SHADERCORE_FLAGS to args.
func envArgs(stdErr io.Writer, exit func(code int), args []string) []string {
	env := os.Getenv(flagsEnv)
	if env == "" {
		return args
	}
	extra, err := shellquote.Split(env)
	if err != nil {
		fmt.Fprintf(stdErr, "invalid %s: %v\n", flagsEnv, err)
		exit(1)
	}
	return append(extra, args...)
}

// compilerFlags are the options shared by compile and demand.
type compilerFlags struct {
	help        bool
	configPath  string
	regs        int
	reserved    int
	noSimplify  bool
	noHints     bool
	parallelism int
	verbose     bool
}

func (cf *compilerFlags) register(flags *flag.FlagSet) {
	flags.BoolVar(&cf.help, "h", false, "print usage")
	flags.StringVar(&cf.configPath, "config", "", "TOML file with compiler options. Flags set explicitly take precedence.")
	flags.IntVar(&cf.regs, "regs", shadercore.DefaultRegisterFileSize,
		"Register file size of functions that do not declare regs=N.")
	flags.IntVar(&cf.reserved, "reserved", shadercore.DefaultReservedRegisters,
		"Registers reserved as scratch when a function does not fit. Zero or a power of two.")
	flags.BoolVar(&cf.noSimplify, "no-simplify", false, "disable control-flow simplification")
	flags.BoolVar(&cf.noHints, "no-hints", false, "disable register cache hints")
	flags.IntVar(&cf.parallelism, "j", 0, "Functions compiled concurrently. Defaults to GOMAXPROCS.")
	flags.BoolVar(&cf.verbose, "v", false, "log every pass to stderr")
}

// compiler builds a Compiler from the config file, if any, overridden by the flags set on flags.
func (cf *compilerFlags) compiler(flags *flag.FlagSet, stdErr io.Writer, exit func(code int)) (*shadercore.Compiler, *zap.Logger) {
	config := shadercore.NewCompilerConfig()
	if cf.configPath != "" {
		var err error
		if config, err = shadercore.LoadCompilerConfig(cf.configPath); err != nil {
			fmt.Fprintf(stdErr, "invalid config: %v\n", err)
			exit(1)
		}
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "regs":
			config = config.WithRegisterFileSize(cf.regs)
		case "reserved":
			config = config.WithReservedRegisters(cf.reserved)
		case "no-simplify":
			config = config.WithSimplifyCFG(!cf.noSimplify)
		case "no-hints":
			config = config.WithCacheHints(!cf.noHints)
		case "j":
			config = config.WithParallelism(cf.parallelism)
		}
	})

	logger := zap.NewNop()
	if cf.verbose {
		logger = newLogger(stdErr)
	}
	config = config.WithLogger(logger)

	c, err := shadercore.NewCompilerWithConfig(config)
	if err != nil {
		fmt.Fprintf(stdErr, "invalid options: %v\n", err)
		exit(1)
	}
	return c, logger
}

func doCompile(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("compile", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var cf compilerFlags
	cf.register(flags)

	var outPath string
	flags.StringVar(&outPath, "o", "", "write the allocated code to this file instead of stdout")

	_ = flags.Parse(args)

	if cf.help {
		printCompileUsage(stdErr, flags, "compile")
		exit(0)
	}

	m := compileFile(&cf, flags, stdErr, exit, "compile")

	out := stdOut
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(stdErr, "error creating output: %v\n", err)
			exit(1)
		}
		defer f.Close()
		out = f
	}
	if _, err := io.WriteString(out, m.String()); err != nil {
		fmt.Fprintf(stdErr, "error writing output: %v\n", err)
		exit(1)
	}
	exit(0)
}

func doDemand(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("demand", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var cf compilerFlags
	cf.register(flags)

	_ = flags.Parse(args)

	if cf.help {
		printCompileUsage(stdErr, flags, "demand")
		exit(0)
	}

	m := compileFile(&cf, flags, stdErr, exit, "demand")

	w := tabwriter.NewWriter(stdOut, 0, 8, 1, ' ', 0)
	fmt.Fprintln(w, "function\tdemand\tspills\tfills\tmoves\tswaps\tpressure")
	for _, f := range m.Functions {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", f.Name, f.Demand,
			f.Stats.Spills, f.Stats.Fills, f.Stats.Moves, f.Stats.Swaps, f.Report)
	}
	_ = w.Flush()
	exit(0)
}

// compileFile compiles the file named by the only argument of flags, exiting on any error.
func compileFile(cf *compilerFlags, flags *flag.FlagSet, stdErr io.Writer, exit func(code int), subCmd string) *shadercore.CompiledModule {
	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to IR file")
		printCompileUsage(stdErr, flags, subCmd)
		exit(1)
	}
	src, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stdErr, "error reading IR file: %v\n", err)
		exit(1)
	}

	c, logger := cf.compiler(flags, stdErr, exit)
	defer func() { _ = logger.Sync() }()

	m, err := c.CompileModule(context.Background(), string(src))
	if err != nil {
		for _, e := range multierr.Errors(err) {
			var ce *shadercore.CompilationError
			if errors.As(e, &ce) {
				fmt.Fprintf(stdErr, "error compiling %s: %v\n", ce.Function, ce.Cause)
			} else {
				fmt.Fprintf(stdErr, "error compiling IR file: %v\n", e)
			}
		}
		exit(1)
	}
	return m
}

// newLogger returns a development logger writing to stdErr.
func newLogger(stdErr io.Writer) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(zapcore.AddSync(stdErr)), zap.DebugLevel)
	return zap.New(core)
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "shadercore CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  shadercore <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  compile\tAllocates registers of the functions of an IR file")
	fmt.Fprintln(stdErr, "  demand\tReports the register pressure of the functions of an IR file")
	fmt.Fprintln(stdErr, "  version\tDisplays the version of shadercore CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintf(stdErr, "Options in the %s environment variable are prepended to the command's.\n", flagsEnv)
}

func printCompileUsage(stdErr io.Writer, flags *flag.FlagSet, subCmd string) {
	fmt.Fprintln(stdErr, "shadercore CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintf(stdErr, "Usage:\n  shadercore %s <options> <path to IR file>\n", subCmd)
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}
