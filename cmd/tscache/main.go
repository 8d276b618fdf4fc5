// TuShare Cache Proxy CLI
// This application provides a command-line interface for querying Chinese
// A-share market data (daily quotes, trading calendars, listing metadata,
// price limits) through a local caching proxy that minimizes metered
// upstream API calls.
//
// Usage:
//
//	tscache daily --code 000001.SZ --start 20240101 --end 20241231
//	tscache calendar --exchange SSE --start 20240101 --end 20241231
//	tscache basic --status L
//	tscache limit --date 20240102
//	tscache download --start 20240101 --end 20241231
//	tscache stats
//
// For detailed help on any command, use: tscache <command> --help
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quantstash/go-tushare-cache/internal/cache"
	"github.com/quantstash/go-tushare-cache/internal/config"
	"github.com/quantstash/go-tushare-cache/internal/logger"
	"github.com/quantstash/go-tushare-cache/internal/models"
	"github.com/quantstash/go-tushare-cache/internal/proxy"
	"github.com/quantstash/go-tushare-cache/internal/upstream"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "tscache"
	ConfigFile = "tscache.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitQueryError  = 4
)

// CLI represents the main CLI application
type CLI struct {
	config *config.AppConfig
	logs   *logger.Manager
	store  *cache.Store
	proxy  *proxy.Proxy
}

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.logs.Close()

	var err error
	switch command {
	case "daily":
		err = cli.handleDaily(ctx, args)
	case "calendar":
		err = cli.handleCalendar(ctx, args)
	case "basic":
		err = cli.handleBasic(ctx, args)
	case "limit":
		err = cli.handleLimit(ctx, args)
	case "download":
		err = cli.handleDownload(ctx, args)
	case "stats":
		err = cli.handleStats(args)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		cli.logs.Logger().Error("command failed", "command", command, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitQueryError)
	}
}

// initialize sets up the CLI application components
func (cli *CLI) initialize(ctx context.Context) error {
	manager := config.NewManager(configPath(), nil)
	cfg, err := manager.Load(ctx)
	if err != nil {
		return err
	}
	cli.config = cfg

	logs, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs

	store, err := cache.New(cfg.Cache, logs.Logger())
	if err != nil {
		return fmt.Errorf("failed to initialize cache store: %w", err)
	}
	cli.store = store

	gateway, err := upstream.NewClient(cfg.Upstream, logs.Logger())
	if err != nil {
		return fmt.Errorf("failed to initialize upstream gateway: %w", err)
	}

	p, err := proxy.New(cfg, gateway, store, logs)
	if err != nil {
		return fmt.Errorf("failed to initialize proxy: %w", err)
	}
	cli.proxy = p

	return nil
}

// configPath returns the config file path, honoring TSCACHE_CONFIG.
func configPath() string {
	if path := os.Getenv("TSCACHE_CONFIG"); path != "" {
		return path
	}
	return ConfigFile
}

// requireToken fails early for commands that reach the upstream API.
func (cli *CLI) requireToken() error {
	if cli.config.Upstream.Token == "" {
		return fmt.Errorf("no upstream token configured; set TSCACHE_TOKEN or upstream.token in %s", ConfigFile)
	}
	return nil
}

// handleDaily handles the 'daily' command for OHLCV quotes
func (cli *CLI) handleDaily(ctx context.Context, args []string) error {
	flags, err := parseQueryFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("daily")
		return nil
	}
	if err := cli.requireToken(); err != nil {
		return err
	}

	if flags.Date == "" && (flags.Code == "" || flags.Start == "" || flags.End == "") {
		return fmt.Errorf("specify either --date, or --code with --start and --end")
	}

	result, err := cli.proxy.Daily(ctx, flags.Code, flags.Date, flags.Start, flags.End)
	if err != nil {
		return err
	}

	return outputFragment(result, flags.Format, flags.Limit)
}

// handleCalendar handles the 'calendar' command for trading calendars
func (cli *CLI) handleCalendar(ctx context.Context, args []string) error {
	flags, err := parseCalendarFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("calendar")
		return nil
	}
	if err := cli.requireToken(); err != nil {
		return err
	}

	result, err := cli.proxy.TradeCal(ctx, flags.Exchange, flags.Start, flags.End, flags.Open)
	if err != nil {
		return err
	}

	return outputFragment(result, flags.Format, flags.Limit)
}

// handleBasic handles the 'basic' command for listing metadata
func (cli *CLI) handleBasic(ctx context.Context, args []string) error {
	flags, err := parseBasicFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("basic")
		return nil
	}
	if err := cli.requireToken(); err != nil {
		return err
	}

	result, err := cli.proxy.StockBasic(ctx, proxy.StockBasicFilter{
		Fields:     flags.Fields,
		Name:       flags.Name,
		TSCode:     flags.Code,
		Exchange:   flags.Exchange,
		Market:     flags.Market,
		ListStatus: flags.Status,
	})
	if err != nil {
		return err
	}

	return outputFragment(result, flags.Format, flags.Limit)
}

// handleLimit handles the 'limit' command for daily price limits
func (cli *CLI) handleLimit(ctx context.Context, args []string) error {
	flags, err := parseQueryFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("limit")
		return nil
	}
	if err := cli.requireToken(); err != nil {
		return err
	}

	if flags.Date == "" && (flags.Code == "" || flags.Start == "" || flags.End == "") {
		return fmt.Errorf("specify either --date, or --code with --start and --end")
	}

	result, err := cli.proxy.StkLimit(ctx, flags.Code, flags.Date, flags.Start, flags.End)
	if err != nil {
		return err
	}

	return outputFragment(result, flags.Format, flags.Limit)
}

// handleDownload handles the 'download' command: bulk daily history for
// every listed security, sequentially, warming the cache as it goes.
func (cli *CLI) handleDownload(ctx context.Context, args []string) error {
	flags, err := parseDownloadFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("download")
		return nil
	}
	if err := cli.requireToken(); err != nil {
		return err
	}

	if flags.Start == "" || flags.End == "" {
		return fmt.Errorf("--start and --end are required")
	}

	shares, err := cli.proxy.Listed(ctx)
	if err != nil {
		return fmt.Errorf("failed to load listing directory: %w", err)
	}
	if flags.Count > 0 && len(shares) > flags.Count {
		shares = shares[:flags.Count]
	}

	log := cli.logs.Logger()
	log.Info("starting bulk download",
		"securities", len(shares),
		"start", flags.Start,
		"end", flags.End)

	started := time.Now()
	failures := 0
	for i, share := range shares {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := cli.proxy.Daily(ctx, share.TSCode, "", flags.Start, flags.End)
		if err != nil {
			failures++
			log.Error("download failed", "ts_code", share.TSCode, "error", err)
			if !flags.KeepGoing {
				return fmt.Errorf("download aborted at %s (%d/%d): %w", share.TSCode, i+1, len(shares), err)
			}
			continue
		}

		log.Info("downloaded",
			"ts_code", share.TSCode,
			"name", share.Name,
			"rows", result.Len(),
			"progress", fmt.Sprintf("%d/%d", i+1, len(shares)))
	}

	stats := cli.store.Stats()
	fmt.Printf("Downloaded %d securities in %v (%d failures)\n",
		len(shares)-failures, time.Since(started).Round(time.Second), failures)
	fmt.Printf("Cache: %s\n", stats)
	return nil
}

// handleStats handles the 'stats' command
func (cli *CLI) handleStats(args []string) error {
	format := "text"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--format", "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("--format requires a value")
			}
			format = args[i+1]
			i++
		case "--help", "-h":
			printCommandHelp("stats")
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	stats := cli.store.Stats()
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(stats)
	default:
		fmt.Printf("Cache root:  %s\n", cli.store.Root())
		fmt.Printf("Lookups:     %d\n", stats.Total())
		fmt.Printf("Hits:        %d (%.2f%%)\n", stats.Hit, stats.HitRate)
		fmt.Printf("Misses:      %d (%.2f%%)\n", stats.Miss, stats.MissRate)
		fmt.Printf("Expired:     %d (%.2f%%)\n", stats.Expired, stats.ExpiredRate)
		return nil
	}
}

// Flag structures for parsing command line arguments

// QueryFlags represents flags shared by the daily and limit commands
type QueryFlags struct {
	Code   string
	Date   string
	Start  string
	End    string
	Format string
	Limit  int
	Help   bool
}

// CalendarFlags represents flags for the calendar command
type CalendarFlags struct {
	Exchange string
	Start    string
	End      string
	Open     string
	Format   string
	Limit    int
	Help     bool
}

// BasicFlags represents flags for the basic command
type BasicFlags struct {
	Fields   string
	Code     string
	Name     string
	Exchange string
	Market   string
	Status   string
	Format   string
	Limit    int
	Help     bool
}

// DownloadFlags represents flags for the download command
type DownloadFlags struct {
	Start     string
	End       string
	Count     int
	KeepGoing bool
	Help      bool
}

// Flag parsing functions

func parseQueryFlags(args []string) (*QueryFlags, error) {
	flags := &QueryFlags{Format: "table"}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--code", "-c":
			value, err := flagValue(args, i, "--code")
			if err != nil {
				return nil, err
			}
			flags.Code = value
			i++
		case "--date", "-d":
			value, err := flagValue(args, i, "--date")
			if err != nil {
				return nil, err
			}
			flags.Date = value
			i++
		case "--start", "-s":
			value, err := flagValue(args, i, "--start")
			if err != nil {
				return nil, err
			}
			flags.Start = value
			i++
		case "--end", "-e":
			value, err := flagValue(args, i, "--end")
			if err != nil {
				return nil, err
			}
			flags.End = value
			i++
		case "--format", "-f":
			value, err := formatValue(args, i)
			if err != nil {
				return nil, err
			}
			flags.Format = value
			i++
		case "--limit", "-l":
			value, err := intValue(args, i, "--limit")
			if err != nil {
				return nil, err
			}
			flags.Limit = value
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseCalendarFlags(args []string) (*CalendarFlags, error) {
	flags := &CalendarFlags{Format: "table"}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--exchange", "-x":
			value, err := flagValue(args, i, "--exchange")
			if err != nil {
				return nil, err
			}
			flags.Exchange = value
			i++
		case "--start", "-s":
			value, err := flagValue(args, i, "--start")
			if err != nil {
				return nil, err
			}
			flags.Start = value
			i++
		case "--end", "-e":
			value, err := flagValue(args, i, "--end")
			if err != nil {
				return nil, err
			}
			flags.End = value
			i++
		case "--open", "-o":
			value, err := flagValue(args, i, "--open")
			if err != nil {
				return nil, err
			}
			if value != "0" && value != "1" {
				return nil, fmt.Errorf("--open must be 0 or 1")
			}
			flags.Open = value
			i++
		case "--format", "-f":
			value, err := formatValue(args, i)
			if err != nil {
				return nil, err
			}
			flags.Format = value
			i++
		case "--limit", "-l":
			value, err := intValue(args, i, "--limit")
			if err != nil {
				return nil, err
			}
			flags.Limit = value
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseBasicFlags(args []string) (*BasicFlags, error) {
	flags := &BasicFlags{Format: "table"}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--fields":
			value, err := flagValue(args, i, "--fields")
			if err != nil {
				return nil, err
			}
			flags.Fields = value
			i++
		case "--code", "-c":
			value, err := flagValue(args, i, "--code")
			if err != nil {
				return nil, err
			}
			flags.Code = value
			i++
		case "--name", "-n":
			value, err := flagValue(args, i, "--name")
			if err != nil {
				return nil, err
			}
			flags.Name = value
			i++
		case "--exchange", "-x":
			value, err := flagValue(args, i, "--exchange")
			if err != nil {
				return nil, err
			}
			flags.Exchange = value
			i++
		case "--market", "-m":
			value, err := flagValue(args, i, "--market")
			if err != nil {
				return nil, err
			}
			flags.Market = value
			i++
		case "--status":
			value, err := flagValue(args, i, "--status")
			if err != nil {
				return nil, err
			}
			flags.Status = value
			i++
		case "--format", "-f":
			value, err := formatValue(args, i)
			if err != nil {
				return nil, err
			}
			flags.Format = value
			i++
		case "--limit", "-l":
			value, err := intValue(args, i, "--limit")
			if err != nil {
				return nil, err
			}
			flags.Limit = value
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseDownloadFlags(args []string) (*DownloadFlags, error) {
	flags := &DownloadFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--start", "-s":
			value, err := flagValue(args, i, "--start")
			if err != nil {
				return nil, err
			}
			flags.Start = value
			i++
		case "--end", "-e":
			value, err := flagValue(args, i, "--end")
			if err != nil {
				return nil, err
			}
			flags.End = value
			i++
		case "--count", "-n":
			value, err := intValue(args, i, "--count")
			if err != nil {
				return nil, err
			}
			flags.Count = value
			i++
		case "--keep-going", "-k":
			flags.KeepGoing = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// flagValue returns the value following args[i], if any.
func flagValue(args []string, i int, name string) (string, error) {
	if i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", name)
	}
	return args[i+1], nil
}

// intValue parses the integer value following args[i].
func intValue(args []string, i int, name string) (int, error) {
	value, err := flagValue(args, i, name)
	if err != nil {
		return 0, err
	}
	var n int
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid %s value: %s", name, value)
	}
	return n, nil
}

// formatValue parses and validates an output format flag.
func formatValue(args []string, i int) (string, error) {
	value, err := flagValue(args, i, "--format")
	if err != nil {
		return "", err
	}
	if value != "table" && value != "json" && value != "csv" {
		return "", fmt.Errorf("invalid format, must be: table, json, or csv")
	}
	return value, nil
}

// Output formatting functions

// outputFragment renders a typed fragment in the requested format.
func outputFragment(frag *models.TypedFragment, format string, limit int) error {
	rows := frag.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "csv":
		fmt.Println(strings.Join(frag.Columns, ","))
		for _, row := range rows {
			values := make([]string, len(frag.Columns))
			for j, col := range frag.Columns {
				values[j] = fmt.Sprintf("%v", row[col])
			}
			fmt.Println(strings.Join(values, ","))
		}
		return nil
	default:
		return outputTable(frag.Columns, rows, limit, frag.Len())
	}
}

// outputTable renders rows as a fixed-width table.
func outputTable(columns []string, rows []models.TypedRow, limit, total int) error {
	if len(rows) == 0 {
		fmt.Println("No data found for the specified criteria.")
		return nil
	}

	widths := make([]int, len(columns))
	for j, col := range columns {
		widths[j] = len(col)
	}
	rendered := make([][]string, len(rows))
	for i, row := range rows {
		rendered[i] = make([]string, len(columns))
		for j, col := range columns {
			value := fmt.Sprintf("%v", row[col])
			rendered[i][j] = value
			if len(value) > widths[j] {
				widths[j] = len(value)
			}
		}
	}

	for j, col := range columns {
		fmt.Printf("%-*s  ", widths[j], col)
	}
	fmt.Println()

	separatorLen := 0
	for _, w := range widths {
		separatorLen += w + 2
	}
	fmt.Println(strings.Repeat("-", separatorLen))

	for _, row := range rendered {
		for j, value := range row {
			fmt.Printf("%-*s  ", widths[j], value)
		}
		fmt.Println()
	}

	if limit > 0 && total > limit {
		fmt.Printf("\n... showing first %d of %d rows (use --limit to see more)\n", limit, total)
	}
	return nil
}

// Help and usage functions

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - TuShare Cache Proxy CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    daily       Query daily OHLCV quotes (whole market or one security's range)
    calendar    Query an exchange's trading calendar
    basic       Query listing metadata for securities
    limit       Query daily up/down price limits
    download    Bulk-download daily history for all listed securities
    stats       Show cache hit/miss/expired statistics

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # One security's daily quotes for 2024 (incrementally cached)
    %s daily --code 000001.SZ --start 20240101 --end 20241231

    # Whole market on one trading day
    %s daily --date 20240102

    # Shanghai exchange trading days in January 2024
    %s calendar --exchange SSE --start 20240101 --end 20240131 --open 1

    # All listed securities as JSON
    %s basic --status L --format json

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (JSON format, path overridable via TSCACHE_CONFIG)
    - Environment variables: TSCACHE_* (e.g., TSCACHE_TOKEN, TSCACHE_CACHE_ROOT)

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "daily":
		fmt.Printf(`%s daily - Query daily OHLCV quotes

USAGE:
    %s daily [options]

OPTIONS:
    --code, -c <ts_code>   Security code, e.g. 000001.SZ
    --date, -d <date>      Single trading day (YYYYMMDD), whole market
    --start, -s <date>     Range start (YYYYMMDD), requires --code and --end
    --end, -e <date>       Range end (YYYYMMDD)
    --format, -f <format>  Output format: table, json, csv (default: table)
    --limit, -l <n>        Maximum rows to display
    --help, -h             Show this help message

EXAMPLES:
    # One security's 2024 history; repeated queries reuse the cached window
    %s daily --code 000001.SZ --start 20240101 --end 20241231

    # Whole market snapshot for one day
    %s daily --date 20240102 --format csv

NOTES:
    - Range queries grow a per-security cached window; only missing
      sub-ranges are fetched upstream
    - Single-day queries are cached under their own parameters
`, AppName, AppName, AppName, AppName)

	case "calendar":
		fmt.Printf(`%s calendar - Query an exchange's trading calendar

USAGE:
    %s calendar [options]

OPTIONS:
    --exchange, -x <code>  Exchange: SSE, SZSE, CFFEX, SHFE, CZCE, DCE, INE
                           (upstream defaults to SSE when omitted)
    --start, -s <date>     Range start (YYYYMMDD)
    --end, -e <date>       Range end (YYYYMMDD)
    --open, -o <0|1>       Filter: 1 trading days, 0 closed days
    --format, -f <format>  Output format: table, json, csv (default: table)
    --limit, -l <n>        Maximum rows to display
    --help, -h             Show this help message

EXAMPLES:
    %s calendar --exchange SSE --start 20240101 --end 20240131 --open 1
`, AppName, AppName, AppName)

	case "basic":
		fmt.Printf(`%s basic - Query listing metadata

USAGE:
    %s basic [options]

OPTIONS:
    --fields <list>        Comma-separated output columns
    --code, -c <ts_code>   Filter by security code
    --name, -n <name>      Filter by security name
    --exchange, -x <code>  Filter by exchange: SSE, SZSE, BSE
    --market, -m <market>  Filter by market board
    --status <L|D|P>       Filter by listing status
    --format, -f <format>  Output format: table, json, csv (default: table)
    --limit, -l <n>        Maximum rows to display
    --help, -h             Show this help message

EXAMPLES:
    %s basic --status L --limit 20
    %s basic --code 000001.SZ --format json
`, AppName, AppName, AppName, AppName)

	case "limit":
		fmt.Printf(`%s limit - Query daily price limits

USAGE:
    %s limit [options]

OPTIONS:
    --code, -c <ts_code>   Security code, e.g. 000001.SZ
    --date, -d <date>      Single trading day (YYYYMMDD), whole market
    --start, -s <date>     Range start (YYYYMMDD), requires --code and --end
    --end, -e <date>       Range end (YYYYMMDD)
    --format, -f <format>  Output format: table, json, csv (default: table)
    --limit, -l <n>        Maximum rows to display
    --help, -h             Show this help message

EXAMPLES:
    %s limit --date 20240102
    %s limit --code 000001.SZ --start 20240101 --end 20240131
`, AppName, AppName, AppName, AppName)

	case "download":
		fmt.Printf(`%s download - Bulk-download daily history

USAGE:
    %s download [options]

OPTIONS:
    --start, -s <date>  Range start (YYYYMMDD, required)
    --end, -e <date>    Range end (YYYYMMDD, required)
    --count, -n <n>     Only download the first n listed securities
    --keep-going, -k    Continue past per-security failures
    --help, -h          Show this help message

EXAMPLES:
    %s download --start 20240101 --end 20241231 --keep-going

NOTES:
    - Securities are downloaded sequentially; the upstream rate limit
      paces the requests
    - Each security's history lands in its own cached window, so a later
      'daily' query for the same range is served from disk
`, AppName, AppName, AppName)

	case "stats":
		fmt.Printf(`%s stats - Show cache statistics

USAGE:
    %s stats [options]

OPTIONS:
    --format, -f <format>  Output format: text, json (default: text)
    --help, -h             Show this help message
`, AppName, AppName)

	default:
		fmt.Fprintf(os.Stderr, "No help available for command: %s\n", command)
		printUsage()
	}
}
