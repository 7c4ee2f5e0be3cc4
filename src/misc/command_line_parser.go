package misc

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type OptionType int

const (
	INT OptionType = iota
	STRING
)

type option struct {
	option_type   OptionType
	name          string
	default_value string
	help_msg      string
}

// CommandLineParser reads "--name value" pairs. Every option has to be added
// before Parse; unknown options panic.
type CommandLineParser struct {
	options     map[string]*option
	args        map[string]string
	positionals []string
}

func (this *CommandLineParser) Init() {
	this.options = make(map[string]*option)
	this.args = make(map[string]string)
	this.positionals = make([]string, 0)

	this.AddOption(STRING, "help", "", "print this help message")
}

func (this *CommandLineParser) AddOption(
	option_type OptionType,
	name string,
	default_value string,
	help_msg string,
) {
	if _, found := this.options[name]; found {
		err := fmt.Errorf("option %s is already added", name)
		panic(err)
	}

	if option_type == INT {
		if _, err := strconv.ParseInt(default_value, 0, 64); err != nil && default_value != "" {
			panic(fmt.Errorf("default value %s of %s is not an integer", default_value, name))
		}
	}

	this.options[name] = &option{
		option_type:   option_type,
		name:          name,
		default_value: default_value,
		help_msg:      help_msg,
	}
}

// Parse consumes os.Args style input; args[0] is the program name.
func (this *CommandLineParser) Parse(args []string) {
	for i := 1; i < len(args); i++ {
		arg := args[i]

		if !strings.HasPrefix(arg, "--") {
			this.positionals = append(this.positionals, arg)
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		value := ""
		if eq := strings.Index(name, "="); eq >= 0 {
			name, value = name[:eq], name[eq+1:]
		} else if name != "help" {
			if i+1 >= len(args) {
				err := fmt.Errorf("option %s has no value", name)
				panic(err)
			}
			i++
			value = args[i]
		}

		option_, found := this.options[name]
		if !found {
			err := fmt.Errorf("option %s is not supported", name)
			panic(err)
		}
		if option_.option_type == INT {
			if _, err := strconv.ParseInt(value, 0, 64); err != nil {
				panic(fmt.Errorf("option %s expects an integer, got %s", name, value))
			}
		}

		this.args[name] = value
	}
}

func (this *CommandLineParser) IsArgSet(name string) bool {
	_, found := this.args[name]
	return found
}

func (this *CommandLineParser) Positionals() []string {
	return this.positionals
}

func (this *CommandLineParser) value(name string, option_type OptionType) string {
	option_, found := this.options[name]
	if !found {
		err := fmt.Errorf("option %s is not supported", name)
		panic(err)
	}
	if option_.option_type != option_type {
		err := errors.New("option type mismatch")
		panic(err)
	}

	if value, found := this.args[name]; found {
		return value
	}
	return option_.default_value
}

func (this *CommandLineParser) IntParameter(name string) int64 {
	value, err := strconv.ParseInt(this.value(name, INT), 0, 64)
	if err != nil {
		panic(err)
	}
	return value
}

func (this *CommandLineParser) StringParameter(name string) string {
	return this.value(name, STRING)
}

func (this *CommandLineParser) names() []string {
	names := make([]string, 0, len(this.options))
	for name := range this.options {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (this *CommandLineParser) StringifyHelpMsgs() string {
	var builder strings.Builder
	builder.WriteString("usage: bccsim [--option value]...\n")
	for _, name := range this.names() {
		option_ := this.options[name]
		type_ := "int"
		if option_.option_type == STRING {
			type_ = "string"
		}
		fmt.Fprintf(&builder, "  --%-28s %-6s %s (default: %q)\n", name, type_, option_.help_msg, option_.default_value)
	}
	return builder.String()
}

// StringifyArgs returns the options set on the command line.
func (this *CommandLineParser) StringifyArgs() string {
	lines := make([]string, 0)
	for _, name := range this.names() {
		if value, found := this.args[name]; found {
			lines = append(lines, fmt.Sprintf("--%s %s", name, value))
		}
	}
	return strings.Join(lines, "\n")
}

// StringifyOptions returns every option with its effective value.
func (this *CommandLineParser) StringifyOptions() string {
	lines := make([]string, 0)
	for _, name := range this.names() {
		if name == "help" {
			continue
		}
		option_ := this.options[name]
		value := option_.default_value
		if arg, found := this.args[name]; found {
			value = arg
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, value))
	}
	return strings.Join(lines, "\n")
}
