// loamctl is an admin CLI for loam store directories.
//
// Usage:
//
//	loamctl create --buckets N <dir>   Create a new store
//	loamctl info <dir>                 Print manifest and layout
//	loamctl inspect <dir>              Interactive bucket inspector
//
// Inspect commands (in REPL):
//
//	get <bucket>           Hexdump a bucket's data page
//	put <bucket> <hex>     Write hex bytes into a bucket
//	clear <bucket>         Mark a bucket empty
//	bit <bucket>           Show a bucket's occupancy bit
//	count                  Count occupied buckets
//	info                   Show store layout
//	sync                   Flush the ht file
//	help                   Show this help
//	exit / quit / q        Exit
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/loamdb/loam/internal/htfile"
	"github.com/loamdb/loam/internal/store"
)

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()

		return errors.New("missing command")
	}

	switch args[0] {
	case "create":
		return runCreate(args[1:])
	case "info":
		return runInfo(args[1:])
	case "inspect":
		return runInspect(args[1:])
	case "help", "--help", "-h":
		printUsage()

		return nil
	default:
		printUsage()

		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  loamctl create --buckets N <dir>   Create a new store\n")
	fmt.Fprintf(os.Stderr, "  loamctl info <dir>                 Print manifest and layout\n")
	fmt.Fprintf(os.Stderr, "  loamctl inspect <dir>              Interactive bucket inspector\n")
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)

	buckets := fs.Uint32P("buckets", "b", 0, "number of hash-table buckets")
	verbose := fs.BoolP("verbose", "v", false, "log create details")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: loamctl create --buckets N <dir>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	parseErr := fs.Parse(args)
	if parseErr != nil {
		return parseErr
	}

	if fs.NArg() < 1 {
		fs.Usage()

		return errors.New("missing store directory")
	}

	if *buckets == 0 {
		return errors.New("--buckets must be >= 1")
	}

	dir := fs.Arg(0)

	logger := zap.NewNop()

	if *verbose {
		devLogger, logErr := zap.NewDevelopment()
		if logErr != nil {
			return fmt.Errorf("init logger: %w", logErr)
		}
		defer devLogger.Sync() //nolint:errcheck // stderr sync

		logger = devLogger
	}

	createErr := store.Create(dir, store.Config{Buckets: *buckets}, logger)
	if createErr != nil {
		return createErr
	}

	fmt.Printf("created store %s: %d buckets, %d header pages, %d bytes\n",
		dir, *buckets, htfile.NumHeaderPages(*buckets), htfile.ExpectedFileLen(*buckets))

	return nil
}

func runInfo(args []string) error {
	if len(args) < 1 {
		return errors.New("missing store directory")
	}

	s, err := store.Open(args[0], store.Options{})
	if err != nil {
		return err
	}
	defer s.Close()

	printInfo(os.Stdout, args[0], s)

	return nil
}

func printInfo(out io.Writer, dir string, s *store.Store) {
	buckets := s.Config().Buckets

	fmt.Fprintf(out, "store:         %s\n", dir)
	fmt.Fprintf(out, "buckets:       %d\n", buckets)
	fmt.Fprintf(out, "header pages:  %d\n", htfile.NumHeaderPages(buckets))
	fmt.Fprintf(out, "file length:   %d bytes\n", htfile.ExpectedFileLen(buckets))
	fmt.Fprintf(out, "occupied:      %d\n", s.Occupied())
	fmt.Fprintf(out, "data page 0:   physical page %d\n", s.Offsets().DataPage(0))
}

func runInspect(args []string) error {
	if len(args) < 1 {
		return errors.New("missing store directory")
	}

	dir := args[0]

	s, err := store.Open(dir, store.Options{})
	if err != nil {
		return err
	}
	defer s.Close()

	repl := &repl{store: s, dir: dir}

	return repl.run()
}

// repl is the interactive inspect loop.
type repl struct {
	store *store.Store
	dir   string
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".loamctl_history")
}

var replCommands = []string{
	"get", "put", "clear", "bit", "count", "info", "sync", "help", "exit", "quit",
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(func(line string) []string {
		var out []string

		for _, c := range replCommands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}

		return out
	})

	if f, histErr := os.Open(historyFile()); histErr == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Printf("loamctl - inspecting %s (%d buckets, %d occupied)\n",
		r.dir, r.store.Config().Buckets, r.store.Occupied())
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("loam> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)

		done, cmdErr := r.dispatch(strings.ToLower(parts[0]), parts[1:])
		if cmdErr != nil {
			fmt.Printf("error: %v\n", cmdErr)
		}

		if done {
			break
		}
	}

	r.saveHistory()

	return nil
}

func (r *repl) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}

	_, _ = r.liner.WriteHistory(f)
	_ = f.Close()
}

func (r *repl) dispatch(cmd string, args []string) (done bool, err error) {
	switch cmd {
	case "exit", "quit", "q":
		fmt.Println("Bye!")

		return true, nil
	case "help", "?":
		r.printHelp()

		return false, nil
	case "get":
		return false, r.cmdGet(args)
	case "put":
		return false, r.cmdPut(args)
	case "clear":
		return false, r.cmdClear(args)
	case "bit":
		return false, r.cmdBit(args)
	case "count":
		fmt.Printf("%d occupied\n", r.store.Occupied())

		return false, nil
	case "info":
		printInfo(os.Stdout, r.dir, r.store)

		return false, nil
	case "sync":
		return false, r.store.Sync()
	default:
		return false, fmt.Errorf("unknown command: %s (try 'help')", cmd)
	}
}

func (r *repl) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  get <bucket>           Hexdump a bucket's data page")
	fmt.Println("  put <bucket> <hex>     Write hex bytes into a bucket")
	fmt.Println("  clear <bucket>         Mark a bucket empty")
	fmt.Println("  bit <bucket>           Show a bucket's occupancy bit")
	fmt.Println("  count                  Count occupied buckets")
	fmt.Println("  info                   Show store layout")
	fmt.Println("  sync                   Flush the ht file")
	fmt.Println("  exit / quit / q        Exit")
}

func parseBucket(args []string) (uint32, error) {
	if len(args) < 1 {
		return 0, errors.New("missing bucket index")
	}

	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad bucket index %q: %w", args[0], err)
	}

	return uint32(n), nil
}

func (r *repl) cmdGet(args []string) error {
	bucket, err := parseBucket(args)
	if err != nil {
		return err
	}

	page, readErr := r.store.ReadBucket(bucket)
	if readErr != nil {
		return readErr
	}
	defer page.Release()

	occupied, occErr := r.store.IsOccupied(bucket)
	if occErr != nil {
		return occErr
	}

	fmt.Printf("bucket %d (occupied=%v):\n", bucket, occupied)
	hexdump(os.Stdout, page.Bytes())

	return nil
}

func (r *repl) cmdPut(args []string) error {
	bucket, err := parseBucket(args)
	if err != nil {
		return err
	}

	if len(args) < 2 {
		return errors.New("missing hex data")
	}

	data, decodeErr := hex.DecodeString(args[1])
	if decodeErr != nil {
		return fmt.Errorf("bad hex data: %w", decodeErr)
	}

	writeErr := r.store.WriteBucket(bucket, data)
	if writeErr != nil {
		return writeErr
	}

	fmt.Printf("wrote %d bytes to bucket %d\n", len(data), bucket)

	return nil
}

func (r *repl) cmdClear(args []string) error {
	bucket, err := parseBucket(args)
	if err != nil {
		return err
	}

	clearErr := r.store.ClearBucket(bucket)
	if clearErr != nil {
		return clearErr
	}

	fmt.Printf("cleared bucket %d\n", bucket)

	return nil
}

func (r *repl) cmdBit(args []string) error {
	bucket, err := parseBucket(args)
	if err != nil {
		return err
	}

	occupied, occErr := r.store.IsOccupied(bucket)
	if occErr != nil {
		return occErr
	}

	fmt.Printf("bucket %d occupied=%v\n", bucket, occupied)

	return nil
}

// hexdump prints a page, skipping runs of all-zero lines.
func hexdump(out io.Writer, data []byte) {
	const width = 16

	skipping := false

	for off := 0; off < len(data); off += width {
		line := data[off:min(off+width, len(data))]

		allZero := true

		for _, b := range line {
			if b != 0 {
				allZero = false

				break
			}
		}

		if allZero {
			if !skipping {
				fmt.Fprintln(out, "  *")

				skipping = true
			}

			continue
		}

		skipping = false

		fmt.Fprintf(out, "  %08x  % x  |%s|\n", off, line, printable(line))
	}

	fmt.Fprintf(out, "  %08x\n", len(data))
}

func printable(line []byte) string {
	var sb strings.Builder

	for _, b := range line {
		if b >= 0x20 && b < 0x7F {
			sb.WriteByte(b)
		} else {
			sb.WriteByte('.')
		}
	}

	return sb.String()
}
