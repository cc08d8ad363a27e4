package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand is one simple command found in a shell string.
type BashCommand struct {
	Name       string   // e.g. "rm", "git"
	Args       []string
	Subcommand string // first non-flag argument, e.g. "commit" in "git commit"
}

// ParseBashCommand returns every simple command in command, including those
// inside pipelines, lists, subshells and command substitutions.
func ParseBashCommand(command string) ([]BashCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []BashCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func extractCommand(call *syntax.CallExpr) *BashCommand {
	if len(call.Args) == 0 {
		return nil
	}

	name := wordToString(call.Args[0])
	if name == "" {
		return nil
	}
	cmd := &BashCommand{Name: name}

	for _, arg := range call.Args[1:] {
		value := wordToString(arg)
		cmd.Args = append(cmd.Args, value)
		if cmd.Subcommand == "" && !strings.HasPrefix(value, "-") {
			cmd.Subcommand = value
		}
	}
	return cmd
}

// wordToString flattens a word. Expansions are rendered as placeholders since
// their values are unknown until the shell runs.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}
