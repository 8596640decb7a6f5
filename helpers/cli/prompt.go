package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

type Executor func(ctx context.Context, line string)
type Completer func(d prompt.Document) []prompt.Suggest

// MainLoop runs interactive prompt on terminal stdin,
// otherwise executes stdin lines one by one (scripted diagnostics over ssh).
// Returns when input ends or ctx is cancelled.
func MainLoop(ctx context.Context, tag string, exec Executor, complete Completer) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		p := prompt.New(
			func(line string) { exec(ctx, line) },
			prompt.Completer(complete),
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
			prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
				return breakline && (strings.TrimSpace(in) == "exit" || ctx.Err() != nil)
			}),
		)
		p.Run()
		return nil
	}
	return RunScript(ctx, os.Stdin, exec)
}

func RunScript(ctx context.Context, r io.Reader, exec Executor) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		exec(ctx, line)
	}
	return scanner.Err()
}
