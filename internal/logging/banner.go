package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
	dim   = "\033[2m"
)

var logoLines = [6]string{
	`            _       _         _ `,
	`   ___ ___ | | __ _| |__   __| |`,
	`  / __/ _ \| |/ _` + "`" + ` | '_ \ / _` + "`" + ` |`,
	` | (_| (_) | | (_| | |_) | (_| |`,
	`  \___\___/|_|\__,_|_.__/ \__,_|`,
	`                                `,
}

// PrintBanner prints the colabd ASCII art logo with version, listen
// address and environment below it. Colors are used only when stderr
// is a TTY.
func PrintBanner(ver, addr, env string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	for i := 0; i < 6; i++ {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, logoLines[i], reset)
		} else {
			fmt.Fprintln(os.Stderr, logoLines[i])
		}
	}

	// Info line below the art.
	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %saddr%s %s   %senv%s %s\n\n",
			dim, reset, ver, dim, reset, addr, dim, reset, env)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   addr %s   env %s\n\n", ver, addr, env)
	}
}
