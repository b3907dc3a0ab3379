// Package repl implements the line-oriented command loop used by the CLI.
package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ReplCommand runs one command with its argument payload.
type ReplCommand func(string, *REPLConfig) (output string, err error)

const (
	// Trigger for the help meta-command that prints out all help strings
	TriggerHelpMetacommand = ".help"

	// String that should be prepended to any error before being sent to the output writer
	ErrorPrependStr = "ERROR: "
)

var (
	// Error when combined REPLs share a trigger
	ErrOverlappingCommands = errors.New("found overlapping commands")

	// Error for when a sent trigger is not associated with any known commands
	ErrCommandNotFound = errors.New("command not found")
)

// REPL maps command triggers to handlers and their help strings.
type REPL struct {
	commands map[string]ReplCommand
	help     map[string]string
}

// REPLConfig carries per-session state into command handlers.
type REPLConfig struct {
	clientId uuid.UUID
}

// GetAddr returns the session's client id.
func (replConfig *REPLConfig) GetAddr() uuid.UUID {
	return replConfig.clientId
}

// NewRepl constructs an empty REPL.
func NewRepl() *REPL {
	return &REPL{make(map[string]ReplCommand), make(map[string]string)}
}

// CombineRepls merges a slice of REPLs, erroring on overlapping triggers.
func CombineRepls(repls []*REPL) (*REPL, error) {
	combined := NewRepl()
	for _, r := range repls {
		for trigger, command := range r.commands {
			if _, exists := combined.commands[trigger]; exists {
				return nil, ErrOverlappingCommands
			}
			combined.AddCommand(trigger, command, r.help[trigger])
		}
	}
	return combined, nil
}

// AddCommand registers a handler and its help string under a trigger.
func (r *REPL) AddCommand(trigger string, command ReplCommand, help string) {
	if strings.HasPrefix(trigger, ".") {
		return
	}
	r.commands[trigger] = command
	r.help[trigger] = help
}

// HelpString renders the help text for every registered command.
func (r *REPL) HelpString() string {
	var sb strings.Builder
	triggers := make([]string, 0, len(r.help))
	for trigger := range r.help {
		triggers = append(triggers, trigger)
	}
	sort.Strings(triggers)
	for _, trigger := range triggers {
		sb.WriteString(fmt.Sprintf("%s: %s\n", trigger, r.help[trigger]))
	}
	return sb.String()
}

// Run reads lines from the reader and dispatches them until EOF.
func (r *REPL) Run(clientId uuid.UUID, prompt string, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	replConfig := &REPLConfig{clientId: clientId}
	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, prompt)
			continue
		}
		if line == TriggerHelpMetacommand {
			fmt.Fprint(out, r.HelpString())
			fmt.Fprint(out, prompt)
			continue
		}
		trigger := strings.Fields(line)[0]
		command, ok := r.commands[trigger]
		if !ok {
			fmt.Fprintf(out, "%s%s\n", ErrorPrependStr, ErrCommandNotFound)
			fmt.Fprint(out, prompt)
			continue
		}
		output, err := command(line, replConfig)
		if err != nil {
			fmt.Fprintf(out, "%s%s\n", ErrorPrependStr, err)
		} else if output != "" {
			fmt.Fprint(out, output)
		}
		fmt.Fprint(out, prompt)
	}
}
