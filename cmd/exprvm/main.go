package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/funvibe/exprvm/internal/ast"
	"github.com/funvibe/exprvm/internal/backend"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/scenarios"
	"github.com/funvibe/exprvm/internal/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// BackendType determines the backend used by check.
// Can be set at build time using: -ldflags "-X main.BackendType=treewalk"
// Default is "fast".
var BackendType = "fast"

func main() {
	opts, err := config.Load(config.DefaultOptionsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	commonlog.Configure(opts.Verbosity, nil)

	if handleHelp() {
		return
	}
	if handleList() {
		return
	}
	if handleDisasm(opts) {
		return
	}
	if handleCheck(opts) {
		return
	}
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [arguments]\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  check [-backend vm|treewalk|fast] [scenario...]  run scenarios and verify results")
	fmt.Fprintln(os.Stderr, "  disasm <scenario>                                print the compiled code of a scenario")
	fmt.Fprintln(os.Stderr, "  list                                             list scenario names")
	fmt.Fprintln(os.Stderr, "  help                                             show this message")
	fmt.Fprintf(os.Stderr, "\nOptions are read from %s when present.\n", config.DefaultOptionsFile)
}

func handleHelp() bool {
	if len(os.Args) < 2 {
		return false
	}
	if os.Args[1] != "-help" && os.Args[1] != "--help" && os.Args[1] != "help" {
		return false
	}
	usage()
	return true
}

func handleList() bool {
	if len(os.Args) < 2 || os.Args[1] != "list" {
		return false
	}
	for _, s := range scenarios.All() {
		if s.Unsupported {
			fmt.Printf("%s (interpreted)\n", s.Name)
		} else {
			fmt.Println(s.Name)
		}
	}
	return true
}

func handleDisasm(opts config.Options) bool {
	if len(os.Args) < 2 || os.Args[1] != "disasm" {
		return false
	}
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s disasm <scenario>\n", os.Args[0])
		os.Exit(2)
	}
	s, ok := scenarios.Find(os.Args[2])
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: no scenario %q\n", os.Args[2])
		os.Exit(1)
	}
	c := s.Make()
	fmt.Printf("// %s\n", ast.Format(c.Lambda))
	art, err := vm.NewCompiler(opts).Compile(c.Lambda, vm.Shape{Params: c.Params, Result: c.Result})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compilation error: %s\n", err)
		os.Exit(1)
	}
	fmt.Print(art.Disassemble())
	return true
}

// parseCheckArgs splits check arguments into a backend name and scenario names.
func parseCheckArgs(args []string) (string, []string, error) {
	name := BackendType
	var names []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-backend" || arg == "--backend":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s needs a value", arg)
			}
			i++
			name = args[i]
		case strings.HasPrefix(arg, "-backend=") || strings.HasPrefix(arg, "--backend="):
			name = arg[strings.Index(arg, "=")+1:]
		case strings.HasPrefix(arg, "-"):
			return "", nil, fmt.Errorf("unknown flag %s", arg)
		default:
			names = append(names, arg)
		}
	}
	return name, names, nil
}

func selectScenarios(names []string) ([]scenarios.Scenario, error) {
	if len(names) == 0 {
		return scenarios.All(), nil
	}
	list := make([]scenarios.Scenario, 0, len(names))
	for _, n := range names {
		s, ok := scenarios.Find(n)
		if !ok {
			return nil, fmt.Errorf("no scenario %q", n)
		}
		list = append(list, s)
	}
	return list, nil
}

func handleCheck(opts config.Options) bool {
	if len(os.Args) < 2 || os.Args[1] != "check" {
		return false
	}
	name, names, err := parseCheckArgs(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}
	b, err := backend.ByName(name, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}
	list, err := selectScenarios(names)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	rep := newReporter(os.Stdout)
	runCheck(rep, b, list)
	rep.summary()
	if !rep.ok() {
		os.Exit(1)
	}
	return true
}

// runCheck runs every scenario on b. A tree the compiler declines counts as
// declined, not failed.
func runCheck(rep *reporter, b backend.Backend, list []scenarios.Scenario) {
	for _, s := range list {
		label := s.Name + " [" + b.Name() + "]"
		c := s.Make()
		fn, err := b.Prepare(c.Lambda, vm.Shape{Params: c.Params, Result: c.Result})
		if err != nil {
			if vm.IsUnsupported(err) && s.Unsupported {
				rep.decline(label, err)
			} else {
				rep.fail(label, err)
			}
			continue
		}
		got, err := fn.Call(c.Args...)
		if err != nil {
			rep.fail(label, err)
			continue
		}
		if err := c.Verify(got); err != nil {
			rep.fail(label, err)
			continue
		}
		rep.pass(label)
	}
}
