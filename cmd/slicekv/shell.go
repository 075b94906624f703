package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/KevoDB/slicekv/pkg/common/log"
	"github.com/KevoDB/slicekv/pkg/engine"
	"github.com/KevoDB/slicekv/pkg/snapshot"
	"github.com/KevoDB/slicekv/pkg/telemetry"
)

const helpText = `
slicekv - An embedded, memory-mapped, sharded key-value store.

Usage:
  slicekv [options] [database_path]  - Start with an optional database path

Commands:
  .help                   - Show this help message
  .open PATH              - Open a database at PATH
  .close                  - Close the current database
  .exit                   - Exit the program
  .stats                  - Show database statistics
  .sync                   - Flush all slices to disk
  .dump FILE [CODEC]      - Export the database to FILE (zstd, snappy or none)
  .load FILE              - Import a snapshot from FILE

  PUT key value           - Store a key-value pair
  GET key                 - Retrieve a value by key

  SCAN                    - Scan all key-value pairs
  SCAN prefix             - Scan key-value pairs with given prefix
  SCAN RANGE start end    - Scan key-value pairs in range [start, end)
`

// shell executes interactive commands against an optional open engine
type shell struct {
	eng    *engine.Engine
	dbPath string
	out    io.Writer
	errOut io.Writer
	logger log.Logger
	tel    telemetry.Telemetry

	// extra options for every engine the shell opens
	engineOpts []engine.Option
}

func newShell(out, errOut io.Writer, logger log.Logger, tel telemetry.Telemetry) *shell {
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	return &shell{out: out, errOut: errOut, logger: logger, tel: tel}
}

func (s *shell) prompt() string {
	if s.dbPath != "" {
		return fmt.Sprintf("slicekv:%s> ", s.dbPath)
	}
	return "slicekv> "
}

func (s *shell) open(path string) error {
	opts := append([]engine.Option{engine.WithLogger(s.logger), engine.WithTelemetry(s.tel)}, s.engineOpts...)
	eng, err := engine.Open(path, opts...)
	if err != nil {
		return err
	}
	s.eng = eng
	s.dbPath = path
	return nil
}

func (s *shell) close() error {
	if s.eng == nil {
		return nil
	}
	err := s.eng.Close()
	s.eng = nil
	s.dbPath = ""
	return err
}

// execute runs one command line and reports whether the shell should exit
func (s *shell) execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToUpper(parts[0])

	if strings.HasPrefix(cmd, ".") {
		return s.executeDot(strings.ToLower(cmd), parts[1:])
	}

	if s.eng == nil {
		fmt.Fprintln(s.out, "Error: No database open")
		return false
	}

	switch cmd {
	case "PUT":
		if len(parts) < 3 {
			fmt.Fprintln(s.out, "Error: PUT requires key and value arguments")
			return false
		}
		if err := s.eng.Write([]byte(parts[1]), []byte(strings.Join(parts[2:], " "))); err != nil {
			fmt.Fprintf(s.errOut, "Error putting value: %s\n", err)
			return false
		}
		fmt.Fprintln(s.out, "Value stored")

	case "GET":
		if len(parts) < 2 {
			fmt.Fprintln(s.out, "Error: GET requires a key argument")
			return false
		}
		val, err := s.eng.Read([]byte(parts[1]))
		switch {
		case errors.Is(err, engine.ErrKeyNotFound):
			fmt.Fprintln(s.out, "Key not found")
		case err != nil:
			fmt.Fprintf(s.errOut, "Error getting value: %s\n", err)
		default:
			fmt.Fprintf(s.out, "%s\n", val)
		}

	case "SCAN":
		s.scan(parts[1:])

	default:
		fmt.Fprintf(s.out, "Unknown command: %s\n", cmd)
	}
	return false
}

func (s *shell) executeDot(cmd string, args []string) bool {
	switch cmd {
	case ".help":
		fmt.Fprint(s.out, helpText)

	case ".open":
		if len(args) < 1 {
			fmt.Fprintln(s.out, "Error: Missing path argument")
			return false
		}
		if err := s.close(); err != nil {
			fmt.Fprintf(s.errOut, "Error closing database: %s\n", err)
		}
		if err := s.open(args[0]); err != nil {
			fmt.Fprintf(s.errOut, "Error opening database: %s\n", err)
			return false
		}
		fmt.Fprintf(s.out, "Database opened at %s\n", s.dbPath)

	case ".close":
		if s.eng == nil {
			fmt.Fprintln(s.out, "No database open")
			return false
		}
		path := s.dbPath
		if err := s.close(); err != nil {
			fmt.Fprintf(s.errOut, "Error closing database: %s\n", err)
			return false
		}
		fmt.Fprintf(s.out, "Database %s closed\n", path)

	case ".exit":
		if err := s.close(); err != nil {
			fmt.Fprintf(s.errOut, "Error closing database: %s\n", err)
		}
		fmt.Fprintln(s.out, "Goodbye!")
		return true

	case ".stats":
		if s.eng == nil {
			fmt.Fprintln(s.out, "No database open")
			return false
		}
		s.printStats()

	case ".sync":
		if s.eng == nil {
			fmt.Fprintln(s.out, "No database open")
			return false
		}
		if err := s.eng.Sync(); err != nil {
			fmt.Fprintf(s.errOut, "Error syncing database: %s\n", err)
			return false
		}
		fmt.Fprintln(s.out, "Database synced to disk")

	case ".dump":
		if s.eng == nil {
			fmt.Fprintln(s.out, "No database open")
			return false
		}
		if len(args) < 1 {
			fmt.Fprintln(s.out, "Error: Missing file argument")
			return false
		}
		s.dump(args)

	case ".load":
		if s.eng == nil {
			fmt.Fprintln(s.out, "No database open")
			return false
		}
		if len(args) < 1 {
			fmt.Fprintln(s.out, "Error: Missing file argument")
			return false
		}
		s.load(args[0])

	default:
		fmt.Fprintf(s.out, "Unknown command: %s\n", cmd)
	}
	return false
}

func (s *shell) scan(args []string) {
	var lower, upper []byte
	switch {
	case len(args) == 0:
	case strings.ToUpper(args[0]) == "RANGE":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "Error: SCAN RANGE requires start and end keys")
			return
		}
		lower, upper = []byte(args[1]), []byte(args[2])
	case len(args) == 1:
		lower = []byte(args[0])
		upper = prefixSuccessor(lower)
	default:
		fmt.Fprintln(s.out, "Error: Invalid SCAN syntax. See .help for usage")
		return
	}

	count := 0
	err := s.eng.Range(lower, upper, func(key, value []byte) bool {
		fmt.Fprintf(s.out, "%s: %s\n", key, value)
		count++
		return true
	})
	if err != nil {
		fmt.Fprintf(s.errOut, "Error scanning: %s\n", err)
		return
	}
	fmt.Fprintf(s.out, "%d entries found\n", count)
}

func (s *shell) dump(args []string) {
	codec, err := snapshot.ParseCodec("")
	if len(args) > 1 {
		codec, err = snapshot.ParseCodec(strings.ToLower(args[1]))
	}
	if err != nil {
		fmt.Fprintf(s.errOut, "Error: %s\n", err)
		return
	}

	f, err := os.Create(args[0])
	if err != nil {
		fmt.Fprintf(s.errOut, "Error creating snapshot: %s\n", err)
		return
	}

	start := time.Now()
	sum, err := snapshot.Export(s.eng, f, snapshot.Options{Codec: codec})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(s.errOut, "Error writing snapshot: %s\n", err)
		return
	}
	fmt.Fprintf(s.out, "Exported %d entries to %s (%s, %.2f ms)\n",
		sum.Records, args[0], sum.Codec, float64(time.Since(start).Microseconds())/1000.0)
}

func (s *shell) load(path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(s.errOut, "Error opening snapshot: %s\n", err)
		return
	}
	defer f.Close()

	start := time.Now()
	sum, err := snapshot.Import(s.eng, f)
	if err != nil {
		fmt.Fprintf(s.errOut, "Error loading snapshot after %d entries: %s\n", sum.Records, err)
		return
	}
	fmt.Fprintf(s.out, "Imported %d entries from %s (%.2f ms)\n",
		sum.Records, path, float64(time.Since(start).Microseconds())/1000.0)
}

func (s *shell) printStats() {
	stats := s.eng.GetStats()

	getUint64 := func(key string) uint64 {
		switch v := stats[key].(type) {
		case uint64:
			return v
		case int64:
			return uint64(v)
		case int:
			return uint64(v)
		default:
			return 0
		}
	}

	lastTime := func(key string) string {
		if ns, ok := stats[key].(int64); ok && ns > 0 {
			return time.Unix(0, ns).Format(time.RFC3339)
		}
		return "Never"
	}

	fmt.Fprintln(s.out, "📊 Operations:")
	fmt.Fprintf(s.out, "  • Writes: %d\n", getUint64("write_ops"))
	fmt.Fprintf(s.out, "  • Reads: %d (Misses: %d)\n", getUint64("read_ops"), getUint64("read_misses"))
	fmt.Fprintf(s.out, "  • Ranges: %d\n", getUint64("range_ops"))
	fmt.Fprintf(s.out, "  • Rollovers: %d\n", getUint64("rollover_ops"))

	fmt.Fprintln(s.out, "\n⏱️ Last Operation Times:")
	fmt.Fprintf(s.out, "  • Last Write: %s\n", lastTime("last_write_time"))
	fmt.Fprintf(s.out, "  • Last Read: %s\n", lastTime("last_read_time"))

	fmt.Fprintln(s.out, "\n⚡ Latency (avg):")
	for _, op := range []string{"write", "read", "range"} {
		if latency, ok := stats[op+"_latency"].(map[string]interface{}); ok {
			if avgNs, ok := latency["avg_ns"].(uint64); ok {
				fmt.Fprintf(s.out, "  • %s: %.3f ms\n", toTitle(op), float64(avgNs)/1000000.0)
			}
		}
	}

	fmt.Fprintln(s.out, "\n💾 Storage:")
	fmt.Fprintf(s.out, "  • Slices: %d (router: %v)\n", getUint64("slices"), stats["router"])
	fmt.Fprintf(s.out, "  • Keys: %d\n", getUint64("keys"))
	fmt.Fprintf(s.out, "  • Generations: %d\n", getUint64("generations"))
	fmt.Fprintf(s.out, "  • Bytes Allocated: %d\n", getUint64("bytes_allocated"))
	fmt.Fprintf(s.out, "  • Index Grows: %d\n", getUint64("index_grows"))
	fmt.Fprintf(s.out, "  • Total Bytes Read: %d\n", getUint64("total_bytes_read"))
	fmt.Fprintf(s.out, "  • Total Bytes Written: %d\n", getUint64("total_bytes_written"))

	if errorsMap, ok := stats["errors"].(map[string]uint64); ok && len(errorsMap) > 0 {
		fmt.Fprintln(s.out, "\n⚠️ Errors:")
		names := make([]string, 0, len(errorsMap))
		for name := range errorsMap {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(s.out, "  • %s: %d\n", toTitle(strings.ReplaceAll(name, "_", " ")), errorsMap[name])
		}
	}
}

// prefixSuccessor returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists
func prefixSuccessor(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// toTitle converts the first character of each word to title case
func toTitle(s string) string {
	prev := ' '
	return strings.Map(
		func(r rune) rune {
			if unicode.IsSpace(prev) || unicode.IsPunct(prev) {
				prev = r
				return unicode.ToTitle(r)
			}
			prev = r
			return r
		},
		s)
}
