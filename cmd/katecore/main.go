// Package main is a small driver for the katecore text engine: it loads a
// file, optionally recovers a pending swap journal, applies edits given as
// simple commands on the command line, and saves the result. It exists to
// exercise the engine end-to-end; the real consumer is an editor host.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dshills/katecore/internal/textbuffer"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion bool
		out         string
		blockSize   int
		recover     bool
		verbose     bool
	)
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&out, "o", "", "Output path (defaults to the input path)")
	flag.IntVar(&blockSize, "block-size", textbuffer.DefaultBlockSize, "Target lines per block")
	flag.BoolVar(&recover, "recover", false, "Replay a pending swap journal before editing")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("katecore %s (%s)\n", version, commit)
		return 0
	}
	if flag.NArg() < 1 {
		usage()
		return 2
	}
	path := flag.Arg(0)
	if out == "" {
		out = path
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	buf := textbuffer.New(
		textbuffer.WithBlockSize(blockSize),
		textbuffer.WithLogger(logger),
	)

	ok, encErrs, wrapped, longest := buf.Load(path, false)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: load %s: %s\n", path, buf.LastIOError())
		return 1
	}
	if encErrs {
		fmt.Fprintf(os.Stderr, "Warning: %s contained undecodable byte sequences\n", path)
	}
	if wrapped {
		fmt.Fprintf(os.Stderr, "Warning: wrapped lines longer than the limit (longest seen: %d)\n", longest)
	}

	if recover {
		outcome, err := buf.RecoverSwapJournal(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: swap recovery: %v\n", err)
		} else if outcome.Truncated {
			fmt.Fprintf(os.Stderr, "Warning: swap journal was truncated; partial recovery applied\n")
		}
	}

	if err := buf.EnableSwapJournal(out); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: swap journal disabled: %v\n", err)
	}

	for _, cmd := range flag.Args()[1:] {
		if err := apply(buf, cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %q: %v\n", cmd, err)
			return 1
		}
	}

	if !buf.Save(out) {
		fmt.Fprintf(os.Stderr, "Error: save %s: %s\n", out, buf.LastIOError())
		return 1
	}
	fmt.Printf("%s: %d lines, revision %d\n", out, buf.Lines(), buf.Revision())
	return 0
}

// apply executes one edit command:
//
//	insert:LINE:COL:TEXT    splice TEXT at (LINE, COL)
//	remove:LINE:START:END   delete columns [START, END) on LINE
//	wrap:LINE:COL           split LINE at COL
//	unwrap:LINE             join LINE into its predecessor
//	indent:FROM:TO:WIDTH    indent lines FROM..TO by WIDTH spaces
func apply(buf *textbuffer.Buffer, cmd string) error {
	parts := strings.SplitN(cmd, ":", 4)
	argv, err := atoiAll(parts[1:])
	if err != nil {
		return err
	}

	buf.StartEditing()
	defer buf.FinishEditing()

	switch parts[0] {
	case "insert":
		if len(parts) != 4 || len(argv) < 2 {
			return fmt.Errorf("want insert:LINE:COL:TEXT")
		}
		buf.InsertText(textbuffer.Position{Line: argv[0], Column: argv[1]}, parts[3])
	case "remove":
		if len(argv) != 3 {
			return fmt.Errorf("want remove:LINE:START:END")
		}
		buf.RemoveText(textbuffer.Span{
			Start: textbuffer.Position{Line: argv[0], Column: argv[1]},
			End:   textbuffer.Position{Line: argv[0], Column: argv[2]},
		})
	case "wrap":
		if len(argv) != 2 {
			return fmt.Errorf("want wrap:LINE:COL")
		}
		buf.WrapLine(textbuffer.Position{Line: argv[0], Column: argv[1]})
	case "unwrap":
		if len(argv) != 1 {
			return fmt.Errorf("want unwrap:LINE")
		}
		buf.UnwrapLine(argv[0])
	case "indent":
		if len(argv) != 3 {
			return fmt.Errorf("want indent:FROM:TO:WIDTH")
		}
		buf.IndentSelection(textbuffer.Span{
			Start: textbuffer.Position{Line: argv[0]},
			End:   textbuffer.Position{Line: argv[1], Column: 1},
		}, argv[2])
	default:
		return fmt.Errorf("unknown command %q", parts[0])
	}
	return nil
}

func atoiAll(parts []string) ([]int, error) {
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			// Trailing TEXT argument of insert is not numeric; stop there.
			return out, nil
		}
		out = append(out, n)
	}
	return out, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: katecore [flags] FILE [COMMAND ...]

Commands:
  insert:LINE:COL:TEXT    splice TEXT at (LINE, COL)
  remove:LINE:START:END   delete columns [START, END) on LINE
  wrap:LINE:COL           split LINE at COL
  unwrap:LINE             join LINE into its predecessor
  indent:FROM:TO:WIDTH    indent lines FROM..TO by WIDTH spaces

Flags:
`)
	flag.PrintDefaults()
}
