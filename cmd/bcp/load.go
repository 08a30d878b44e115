package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash"
	"github.com/urfave/cli/v2"

	"github.com/dan-strohschein/bcp-driver/bridge"
	"github.com/dan-strohschein/bcp-driver/client"
	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
)

func loadCommand() *cli.Command {
	return &cli.Command{
		Name:      "load",
		Usage:     "load a delimited file into a table",
		ArgsUsage: "<file|->",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"S"}, EnvVars: []string{"BCP_SERVER"}, Required: true, Usage: "server name, host,port or host\\instance"},
			&cli.StringFlag{Name: "user", Aliases: []string{"U"}, EnvVars: []string{"BCP_USER"}, Usage: "login name"},
			&cli.StringFlag{Name: "password", Aliases: []string{"P"}, EnvVars: []string{"BCP_PASSWORD"}, Usage: "login password"},
			&cli.StringFlag{Name: "database", Aliases: []string{"d"}, EnvVars: []string{"BCP_DATABASE"}, Usage: "database to use (default: the login's default)"},
			&cli.StringFlag{Name: "driver", EnvVars: []string{"BCP_DRIVER"}, Value: "mssql", Usage: "transport driver"},
			&cli.StringFlag{Name: "table", Aliases: []string{"t"}, Required: true, Usage: "destination table"},
			&cli.StringFlag{Name: "delimiter", Value: ",", Usage: "field delimiter"},
			&cli.StringFlag{Name: "null", Value: `\N`, Usage: "field text that loads as NULL"},
			&cli.BoolFlag{Name: "header", Usage: "skip the first line"},
			&cli.BoolFlag{Name: "lazy-quotes", Usage: "accept bare quotes inside fields"},
			&cli.IntFlag{Name: "batch-size", Aliases: []string{"b"}, EnvVars: []string{"BCP_BATCH_SIZE"}, Usage: "rows per batch commit (0 commits once at the end)"},
			&cli.IntFlag{Name: "text-size", Value: protocol.DefaultTextSize, Usage: "maximum text and image value size"},
			&cli.StringSliceFlag{Name: "control", Aliases: []string{"c"}, Usage: "bulk copy control as NAME=VALUE, e.g. TABLOCK=1"},
			&cli.StringFlag{Name: "interfaces", EnvVars: []string{"BCP_INTERFACES"}, Usage: "server lookup file"},
			&cli.StringFlag{Name: "dump", Usage: "write protocol diagnostics to this file"},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "login timeout"},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"BCP_LOG_LEVEL"}, Value: "WARN", Usage: "DEBUG, INFO, WARN or ERROR"},
			&cli.BoolFlag{Name: "debug", Usage: "print errors with stack traces"},
			&cli.BoolFlag{Name: "progress", Usage: "report each batch commit"},
		},
		Action: runLoad,
	}
}

// loadConfig controls how input records become rows.
type loadConfig struct {
	Delimiter  rune
	NullMarker string
	SkipHeader bool
	LazyQuotes bool
}

// loadStats summarizes one load.
type loadStats struct {
	Rows     int64
	Nulls    int64
	Bytes    int64
	Checksum uint64
}

// rowSender is the part of a connection loadRows needs.
type rowSender interface {
	Send(ctx context.Context, row client.Row) error
}

func runLoad(cctx *cli.Context) error {
	if cctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one input file, got %d", cctx.NArg())
	}
	debug := cctx.Bool("debug")

	cfg, err := configFromFlags(cctx)
	if err != nil {
		return err
	}
	controls, err := parseControls(cctx.StringSlice("control"))
	if err != nil {
		return err
	}

	in, closeIn, err := openInput(cctx.Args().First())
	if err != nil {
		return err
	}
	defer closeIn()

	drv, err := transport.Lookup(cctx.String("driver"))
	if err != nil {
		return err
	}
	b := bridge.New(drv)
	if path := cctx.String("interfaces"); path != "" {
		if err := b.UseInterfaces(path); err != nil {
			return fmt.Errorf("interfaces file: %w", err)
		}
	}
	if path := cctx.String("dump"); path != "" {
		if err := b.OpenDump(path); err != nil {
			return fmt.Errorf("dump file: %w", err)
		}
		printInfo("protocol diagnostics go to " + path)
	}

	opts := client.DefaultOptions()
	opts.Bridge = b
	opts.BatchSize = cctx.Int("batch-size")
	opts.TextSize = cctx.Int("text-size")
	opts.LoginTimeout = cctx.Duration("timeout")
	opts.DebugMode = debug
	opts.Logger = client.NewLogger(cctx.String("log-level"), stderr)
	if cctx.Bool("progress") {
		opts.Hooks = append(opts.Hooks, client.NewProgressHook(printProgress))
	}

	ctx := cctx.Context
	table := cctx.String("table")
	const steps = 4

	printStep(1, steps, fmt.Sprintf("connecting to %s with %s", cctx.String("server"), drv.Name()))
	conn, err := client.Connect(ctx, cctx.String("server"), cctx.String("user"), cctx.String("password"), cctx.String("database"), &opts)
	if err != nil {
		return errors.New(client.FormatError(err, debug))
	}
	defer conn.Disconnect()

	printStep(2, steps, "starting bulk copy into "+table)
	if err := conn.Init(ctx, table); err != nil {
		return errors.New(client.FormatError(err, debug))
	}
	for _, c := range controls {
		if err := conn.Control(ctx, c.field, c.value); err != nil {
			return errors.New(client.FormatError(err, debug))
		}
	}

	printStep(3, steps, "sending rows")
	start := time.Now()
	stats, err := loadRows(ctx, conn, in, cfg)
	if err != nil {
		printWarning(fmt.Sprintf("stopped after %d rows; uncommitted rows are discarded", stats.Rows))
		return errors.New(client.FormatError(err, debug))
	}

	printStep(4, steps, "committing")
	committed, err := conn.Done(ctx)
	if err != nil {
		return errors.New(client.FormatError(err, debug))
	}
	elapsed := time.Since(start)

	printHeader("Load summary")
	printTable([]string{"Table", "Rows", "Committed", "Batches", "NULLs", "Bytes", "Checksum", "Elapsed"}, [][]string{{
		table,
		strconv.FormatInt(stats.Rows, 10),
		strconv.FormatInt(committed, 10),
		strconv.FormatInt(conn.Batches(), 10),
		strconv.FormatInt(stats.Nulls, 10),
		strconv.FormatInt(stats.Bytes, 10),
		fmt.Sprintf("%016x", stats.Checksum),
		elapsed.Round(time.Millisecond).String(),
	}})
	printSuccess(fmt.Sprintf("loaded %d rows into %s", committed, table))
	if debug {
		fmt.Fprintln(stderr, conn.DumpDebugInfoJSON())
	}
	return nil
}

func configFromFlags(cctx *cli.Context) (loadConfig, error) {
	delim := cctx.String("delimiter")
	if delim == `\t` {
		delim = "\t"
	}
	if utf8.RuneCountInString(delim) != 1 {
		return loadConfig{}, fmt.Errorf("delimiter must be a single character, got %q", delim)
	}
	r, _ := utf8.DecodeRuneInString(delim)
	return loadConfig{
		Delimiter:  r,
		NullMarker: cctx.String("null"),
		SkipHeader: cctx.Bool("header"),
		LazyQuotes: cctx.Bool("lazy-quotes"),
	}, nil
}

func openInput(name string) (io.Reader, func(), error) {
	if name == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

type control struct {
	field int
	value int
}

// parseControls reads NAME=VALUE pairs. NAME is a control name such as
// TABLOCK or a field number.
func parseControls(entries []string) ([]control, error) {
	out := make([]control, 0, len(entries))
	for _, entry := range entries {
		name, raw, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("control %q must be NAME=VALUE", entry)
		}
		field, err := controlField(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("control %s: value %q is not a number", name, raw)
		}
		out = append(out, control{field: field, value: value})
	}
	return out, nil
}

func controlField(name string) (int, error) {
	if n, err := strconv.Atoi(name); err == nil {
		return n, nil
	}
	upper := strings.ToUpper(name)
	for field := protocol.ControlMaxErrors; field <= protocol.ControlFireTriggers; field++ {
		if protocol.ControlName(field) == upper {
			return field, nil
		}
	}
	return 0, fmt.Errorf("unknown control %q", name)
}

// loadRows sends every record of r. A field equal to the NULL marker is
// sent as NULL. The checksum covers the values in order with NULL distinct
// from every text value.
func loadRows(ctx context.Context, conn rowSender, r io.Reader, cfg loadConfig) (loadStats, error) {
	reader := csv.NewReader(r)
	reader.Comma = cfg.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = cfg.LazyQuotes
	reader.ReuseRecord = true

	var stats loadStats
	digest := xxhash.New()
	line := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read input: %w", err)
		}
		line++
		if line == 1 && cfg.SkipHeader {
			continue
		}

		row := make(client.Row, len(record))
		for i, v := range record {
			if v == cfg.NullMarker {
				row[i] = client.Null()
				stats.Nulls++
				continue
			}
			row[i] = client.Text(v)
			stats.Bytes += int64(len(v))
		}

		if err := conn.Send(ctx, row); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		hashRow(digest, row)
		stats.Rows++
	}

	stats.Checksum = digest.Sum64()
	return stats, nil
}

func hashRow(h hash.Hash64, row client.Row) {
	for _, f := range row {
		if f.IsNull() {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		io.WriteString(h, f.String())
		h.Write([]byte{0x1f})
	}
	h.Write([]byte{0x1e})
}
