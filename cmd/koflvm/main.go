// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/tliron/commonlog"
	"golang.org/x/term"

	"github.com/ozanh/koflvm"
	"github.com/ozanh/koflvm/asm"
	"github.com/ozanh/koflvm/encoder"
	"github.com/ozanh/koflvm/internal/config"

	_ "github.com/tliron/commonlog/simple"
)

const (
	title        = "koflvm"
	promptPrefix = ">>> "
	asmExt       = ".kasm"
)

var log = commonlog.GetLogger("koflvm")

// Sentinel errors for repl.
var (
	errExit  = errors.New("exit")
	errReset = errors.New("reset")
)

type suggest struct {
	text        string
	description string
}

var suggestions = []suggest{
	{text: ".commands", description: "Print REPL commands"},
	{text: ".globals", description: "Print Globals"},
	{text: ".memory", description: "Print Heap Stats"},
	{text: ".chunk", description: "Print Last Chunk"},
	{text: ".reset", description: "Reset VM"},
	{text: ".exit", description: "Exit"},
}

// settings are the effective options after merging the configuration file
// and the command line flags.
type settings struct {
	configPath  string
	memory      int
	stackSize   int
	verbose     bool
	disassemble bool
	timeout     time.Duration
	assembly    bool
	emit        string
	format      string
	verbosity   int
	logFile     string
}

func (s *settings) vmOptions(traceOut io.Writer) koflvm.Options {
	opts := koflvm.Options{Memory: s.memory, StackSize: s.stackSize}
	if s.verbose {
		opts.Trace = traceOut
	}
	return opts
}

type repl struct {
	vm        *koflvm.VM
	out       io.Writer
	commands  map[string]func(string) error
	lastChunk *koflvm.Chunk
}

func newREPL(s *settings, stdout io.Writer) (*repl, error) {
	if stdout == nil {
		stdout = os.Stdout
	}

	vm, err := koflvm.NewVM(s.vmOptions(stdout))
	if err != nil {
		return nil, err
	}

	r := &repl{vm: vm, out: stdout}
	r.commands = map[string]func(string) error{
		".commands": r.cmdCommands,
		".globals":  r.cmdGlobals,
		".memory":   r.cmdMemory,
		".chunk":    r.cmdChunk,
		".reset":    func(string) error { return errReset },
		".exit":     func(string) error { return errExit },
	}
	return r, nil
}

func (r *repl) cmdCommands(_ string) error {
	var maxtext int
	for _, v := range suggestions {
		if maxtext < len(v.text) {
			maxtext = len(v.text)
		}
	}
	for _, v := range suggestions {
		_, _ = fmt.Fprintf(r.out, "%-*s\t%s\n", maxtext, v.text, v.description)
	}
	return nil
}

func (r *repl) cmdGlobals(_ string) error {
	type global struct {
		name  string
		value koflvm.Value
	}

	var globals []global
	r.vm.RangeGlobals(func(name string, value koflvm.Value) bool {
		globals = append(globals, global{name: name, value: value})
		return true
	})
	sort.Slice(globals, func(i, j int) bool {
		return globals[i].name < globals[j].name
	})

	for _, g := range globals {
		_, _ = fmt.Fprintf(r.out, "%s = %s\n", g.name, formatValue(g.value))
	}
	return nil
}

func (r *repl) cmdMemory(_ string) error {
	_, _ = fmt.Fprintf(r.out, "%s objects:%d\n", r.vm.HeapStats(), r.vm.NumObjects())
	return nil
}

func (r *repl) cmdChunk(_ string) error {
	if r.lastChunk == nil {
		_, _ = fmt.Fprintln(r.out, "<nil>")
		return nil
	}
	r.lastChunk.Fprint(r.out)
	return nil
}

func (r *repl) writeString(msg string) {
	_, _ = fmt.Fprintln(r.out, msg)
}

func (r *repl) execute(line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line[0] == '.':
		cmd := strings.Fields(line)[0]
		if fn, ok := r.commands[cmd]; ok {
			return fn(line)
		}
		r.writeString(fmt.Sprintf("!   unknown command %s", cmd))
		return nil
	}

	chunk, err := asm.AssembleFile("(repl)", line)
	if err != nil {
		r.writeString(fmt.Sprintf("!   %v", err))
		return nil
	}
	r.lastChunk = chunk

	ret, err := r.vm.Eval(chunk)
	if err != nil {
		r.writeString(fmt.Sprintf("!   %+v", err))
		return nil
	}
	r.writeString(fmt.Sprintf("⇦   %s", formatValue(ret)))
	return nil
}

func (r *repl) printInfo() {
	_, _ = fmt.Fprintln(r.out, "Copyright (c) 2020-2023 Ozan Hacıbekiroğlu")
	_, _ = fmt.Fprintln(r.out, "https://github.com/ozanh/koflvm License: MIT",
		"Build:", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintln(r.out, "Write .commands to list available commands")
	_, _ = fmt.Fprintln(r.out, "Press Ctrl+D or write .exit command to exit")
	_, _ = fmt.Fprintln(r.out)
}

func (r *repl) run(history io.Reader) error {
	defer r.vm.Dispose()

	line := liner.NewLiner()
	defer line.Close()

	line.SetCompleter(complete)
	_, err := line.ReadHistory(history)
	if err != nil {
		return &koflvm.Error{Message: "failed history read", Cause: err}
	}
	r.printInfo()

	var str string
	for err == nil {
		str, err = line.Prompt(promptPrefix)
		if err != nil {
			if err == io.EOF {
				err = nil
				break
			}
			err = &koflvm.Error{Message: "prompt error", Cause: err}
			break
		}
		err = r.execute(str)
		if err == nil {
			if v := strings.TrimSpace(str); len(v) > 0 {
				line.AppendHistory(v)
			}
		}
	}
	return err
}

func complete(line string) (completions []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	prefix := line[:strings.LastIndex(line, fields[len(fields)-1])]
	word := fields[len(fields)-1]

	candidates := make([]string, 0, len(suggestions)+len(koflvm.OpcodeNames))
	for _, v := range suggestions {
		candidates = append(candidates, v.text)
	}
	for _, name := range koflvm.OpcodeNames {
		candidates = append(candidates, strings.ToLower(name))
	}

	for _, c := range candidates {
		if strings.HasPrefix(c, word) {
			completions = append(completions, prefix+c)
		}
	}
	return
}

func formatValue(v koflvm.Value) string {
	if s, ok := v.(*koflvm.String); ok {
		return fmt.Sprintf("%q", s.Bytes())
	}
	return koflvm.ToDisplayString(v)
}

func parseFlags(
	flagset *flag.FlagSet,
	args []string,
) (s *settings, filePath string, err error) {
	s = &settings{}
	flagset.StringVar(&s.configPath, "config", "",
		"Configuration file, "+config.FileName+" is searched if not provided")
	flagset.IntVar(&s.memory, "memory", koflvm.DefaultOptions.Memory,
		"Heap arena size in bytes")
	flagset.IntVar(&s.stackSize, "stack", koflvm.DefaultOptions.StackSize,
		"Operand stack capacity")
	flagset.BoolVar(&s.verbose, "verbose", false,
		"Trace executed instructions and log more")
	flagset.BoolVar(&s.disassemble, "disassemble", false,
		"Print chunk before execution")
	flagset.DurationVar(&s.timeout, "timeout", 0,
		"Program timeout. It is applicable if a file is provided and "+
			"must be non-zero duration")
	flagset.BoolVar(&s.assembly, "asm", false,
		"Treat input as assembly text, implied by "+asmExt+" extension")
	flagset.StringVar(&s.emit, "emit", "",
		"Write the loaded chunk to given file instead of running it")
	flagset.StringVar(&s.format, "format", encoder.FormatBinary.String(),
		"Format of -emit output: binary or cbor")

	flagset.Usage = func() {
		_, _ = fmt.Fprint(flagset.Output(),
			"Usage: koflvm [flags] [chunk file]\n\n",
			"If chunk file is not provided, REPL terminal application is started\n",
			"Use - to read from stdin\n\n",
			"\nFlags:\n",
		)
		flagset.PrintDefaults()
	}

	if err = flagset.Parse(args); err != nil {
		return
	}

	if err = s.merge(flagset); err != nil {
		return
	}

	if flagset.NArg() != 1 {
		return
	}

	filePath = flagset.Arg(0)
	if filePath == "-" {
		return
	}
	if strings.EqualFold(filepath.Ext(filePath), asmExt) {
		s.assembly = true
	}
	_, err = os.Stat(filePath)
	return
}

// merge loads the configuration file and applies its values to the settings
// whose flags are not set explicitly.
func (s *settings) merge(flagset *flag.FlagSet) error {
	var (
		cfg *config.Config
		err error
	)
	if s.configPath != "" {
		cfg, err = config.Load(s.configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}

	set := make(map[string]bool)
	flagset.Visit(func(f *flag.Flag) { set[f.Name] = true })

	opts := cfg.Options()
	if !set["memory"] && opts.Memory > 0 {
		s.memory = opts.Memory
	}
	if !set["stack"] && opts.StackSize > 0 {
		s.stackSize = opts.StackSize
	}
	if !set["verbose"] {
		s.verbose = cfg.VM.Trace
	}
	if !set["disassemble"] {
		s.disassemble = cfg.VM.Disassemble
	}
	if !set["timeout"] {
		s.timeout = time.Duration(cfg.VM.Timeout)
	}

	s.verbosity = cfg.Log.Verbosity
	if s.verbose && s.verbosity < 1 {
		s.verbosity = 1
	}
	s.logFile = cfg.Log.File

	switch s.format {
	case encoder.FormatBinary.String(), encoder.FormatCBOR.String():
	default:
		return fmt.Errorf("invalid format %q", s.format)
	}
	if cfg.Path != "" {
		s.configPath = cfg.Path
	}
	return nil
}

// loadChunk decodes data as a binary chunk or CBOR image, or assembles it.
func loadChunk(name string, data []byte, assembly bool) (*koflvm.Chunk, error) {
	if assembly {
		return asm.AssembleFile(name, string(data))
	}
	return encoder.Decode(bytes.NewReader(data))
}

func emitChunk(c *koflvm.Chunk, path string, format string) error {
	var (
		data []byte
		err  error
	)
	if format == encoder.FormatCBOR.String() {
		data, err = encoder.MarshalCBOR(c)
	} else {
		data, err = encoder.MarshalChunk(c)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func executeChunk(
	ctx context.Context,
	s *settings,
	chunk *koflvm.Chunk,
	out io.Writer,
) error {
	if s.disassemble {
		chunk.Fprint(out)
	}

	vm, err := koflvm.NewVM(s.vmOptions(out))
	if err != nil {
		return err
	}
	defer vm.Dispose()

	var ret koflvm.Value
	done := make(chan struct{})
	go func() {
		defer close(done)
		ret, err = vm.Eval(chunk)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		vm.Abort()
		<-done
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	log.Debugf("heap %s", vm.HeapStats())
	// ret must be printed before Dispose releases the heap
	_, err = fmt.Fprintln(out, formatValue(ret))
	return err
}

func hasInputRedirection() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeNamedPipe == os.ModeNamedPipe ||
		info.Size() > 0
}

func setTerminalTitle(title string) {
	if runtime.GOOS == "windows" {
		return
	}

	titleBytes := bytes.ReplaceAll([]byte(title), []byte{0x13}, []byte{})
	titleBytes = bytes.ReplaceAll(titleBytes, []byte{0x07}, []byte{})

	_, _ = os.Stdout.Write([]byte{0x1b, ']', '2', ';'})
	_, _ = os.Stdout.Write(titleBytes)
	_, _ = os.Stdout.Write([]byte{0x07})
}

func configureLog(s *settings) {
	var path *string
	if s.logFile != "" {
		path = &s.logFile
	}
	commonlog.Configure(s.verbosity, path)
}

func main() {
	s, filePath, err := parseFlags(flag.CommandLine, os.Args[1:])
	checkErr(err, nil)
	configureLog(s)
	if s.configPath != "" {
		log.Infof("configuration: %s", s.configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(filePath) == 0 && hasInputRedirection() {
		filePath = "-"
	}

	if len(filePath) > 0 {
		if s.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		var (
			name = filePath
			data []byte
		)
		if filePath == "-" {
			name = "(stdin)"
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(filePath)
		}
		checkErr(err, cancel)

		chunk, err := loadChunk(name, data, s.assembly)
		checkErr(err, cancel)
		log.Infof("loaded %s: %d bytes of code, %d constants",
			name, chunk.Count(), len(chunk.Consts()))

		if s.emit != "" {
			checkErr(emitChunk(chunk, s.emit, s.format), cancel)
			log.Infof("wrote %s chunk to %s", s.format, s.emit)
			return
		}

		err = executeChunk(ctx, s, chunk, os.Stdout)
		checkErr(err, cancel)
		return
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		_, _ = fmt.Fprintln(os.Stderr, "not a terminal")
		os.Exit(1)
	}

	setTerminalTitle(title)

	const history = "const 1; const 2; sum; ret\n" +
		"const \"a\"; const \"b\"; concat; ret\n" +
		"const \"x\"; const 42; store_global; true; ret\n" +
		"const \"x\"; access_global; ret\n"

L:
	for {
		r, err := newREPL(s, os.Stdout)
		checkErr(err, cancel)

		err = r.run(strings.NewReader(history))
		if err != nil {
			switch err {
			case errReset:
				continue
			case errExit:
				break L
			}
			checkErr(err, cancel)
		}
		break
	}
}

func checkErr(err error, fn func()) {
	if err == nil {
		return
	}

	defer os.Exit(1)
	log.Errorf("%s", err)
	_, _ = fmt.Fprintf(os.Stderr, "%+v\n", err)
	if fn != nil {
		fn()
	}
}
