// Package cmdline parses the boot command line into typed configuration
// values.
package cmdline

import (
	"strconv"
	"strings"
)

// Separator splits kernel arguments from the command line of the initial
// user program.
const Separator = "--"

// Args holds the parsed boot command line.
type Args struct {
	kv map[string]string

	// Command contains the tokens that follow the Separator.
	Command []string
}

var bootArgs = Parse(nil)

// Parse processes a list of whitespace separated tokens. Kernel tokens have
// the form key=value; a bare key is stored with its own name as the value.
// Everything after the first Separator token is treated as the command line
// of the initial program.
func Parse(tokens []string) *Args {
	args := &Args{kv: make(map[string]string)}

	for index, token := range tokens {
		if token == Separator {
			args.Command = append([]string(nil), tokens[index+1:]...)
			break
		}

		kv := strings.SplitN(token, "=", 2)
		switch len(kv) {
		case 2: // foo=bar
			args.kv[kv[0]] = kv[1]
		case 1: // nofoo
			args.kv[kv[0]] = kv[0]
		}
	}

	return args
}

// ParseString splits s into fields and parses them.
func ParseString(s string) *Args {
	return Parse(strings.Fields(s))
}

// SetBootCmdLine installs the command line returned by BootCmdLine.
func SetBootCmdLine(args *Args) {
	if args == nil {
		args = Parse(nil)
	}
	bootArgs = args
}

// BootCmdLine returns the command line the kernel was booted with.
func BootCmdLine() *Args {
	return bootArgs
}

// Has returns true if key was specified.
func (a *Args) Has(key string) bool {
	_, ok := a.kv[key]
	return ok
}

// String returns the value for key or def if key was not specified.
func (a *Args) String(key, def string) string {
	if v, ok := a.kv[key]; ok {
		return v
	}
	return def
}

// Uint returns the numeric value for key. Values may use a 0x prefix or a
// k/m suffix (KiB/MiB multipliers). If key is missing or cannot be parsed
// def is returned.
func (a *Args) Uint(key string, def uint32) uint32 {
	v, ok := a.kv[key]
	if !ok {
		return def
	}

	mul := uint64(1)
	switch {
	case strings.HasSuffix(v, "k"), strings.HasSuffix(v, "K"):
		mul, v = 1<<10, v[:len(v)-1]
	case strings.HasSuffix(v, "m"), strings.HasSuffix(v, "M"):
		mul, v = 1<<20, v[:len(v)-1]
	}

	n, err := strconv.ParseUint(v, 0, 32)
	if err != nil || n*mul > 1<<32-1 {
		return def
	}
	return uint32(n * mul)
}

// Bool returns true if key was specified and its value is not one of
// "off", "false", "no" or "0".
func (a *Args) Bool(key string) bool {
	v, ok := a.kv[key]
	if !ok {
		return false
	}

	switch strings.ToLower(v) {
	case "off", "false", "no", "0":
		return false
	}
	return true
}

// CommandLine returns the initial program command line joined by spaces.
func (a *Args) CommandLine() string {
	return strings.Join(a.Command, " ")
}
