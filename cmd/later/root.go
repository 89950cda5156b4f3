package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	later "github.com/jdziat/simple-delayed-requests"
	"github.com/jdziat/simple-delayed-requests/pkg/config"
	"github.com/jdziat/simple-delayed-requests/pkg/security"
)

var (
	errMissingAt    = errors.New("missing required --at time")
	errEmptyStdin   = errors.New("no input on stdin")
	errMissingURL   = errors.New("missing --url (or pass a full request with --raw)")
	errInvalidID    = errors.New("invalid job id")
	errInvalidLevel = errors.New("unknown log level")
)

type rootOptions struct {
	configPath string
	database   string

	at      string
	url     string
	method  string
	headers []string
	raw     bool
	queue   string

	list   bool
	remove []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "later",
		Short: "Schedule HTTP requests to be sent later",
		Long: "Reads a request body (or with --raw a full HTTP/1.1 request) from stdin\n" +
			"and schedules it to be sent at the --at time. A running `later serve`\n" +
			"delivers due requests.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to YAML configuration file")
	pf.StringVar(&opts.database, "db", "", "database DSN (SQLite path or postgres:// URL)")

	f := cmd.Flags()
	f.StringVar(&opts.at, "at", "", "fire time: RFC 3339, HTTP date, unix milliseconds (not seconds) or +duration")
	f.StringVar(&opts.url, "url", "", "target URL")
	f.StringVarP(&opts.method, "method", "X", "", "HTTP method (default POST with a body)")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, "request header as key:value (repeatable)")
	f.BoolVar(&opts.raw, "raw", false, "stdin is a complete HTTP/1.1 request")
	f.StringVarP(&opts.queue, "queue", "q", "", "queue name")
	f.BoolVarP(&opts.list, "list", "l", false, "list pending jobs")
	f.StringSliceVarP(&opts.remove, "remove", "r", nil, "cancel jobs by id (comma separated)")
	cmd.MarkFlagsMutuallyExclusive("list", "remove")
	cmd.MarkFlagsMutuallyExclusive("list", "at")
	cmd.MarkFlagsMutuallyExclusive("remove", "at")

	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

func runRoot(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var req later.Request
	if !opts.list && len(opts.remove) == 0 {
		if opts.at == "" {
			return errMissingAt
		}
		input, err := readStdin(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if req, err = buildRequest(opts, input); err != nil {
			return err
		}
	}

	cfg, logger, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	store, err := later.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sched := later.New(store,
		later.WithLogger(logger),
		later.WithMaxAllocationAttempts(cfg.MaxAllocationAttempts),
		later.WithRecordGrace(cfg.RecordGrace),
	)

	queue := opts.queue
	switch {
	case opts.list:
		return printJobs(ctx, cmd.OutOrStdout(), sched, queue)
	case len(opts.remove) > 0:
		ids, err := parseIDs(opts.remove)
		if err != nil {
			return err
		}
		return sched.Cancel(ctx, ids...)
	}

	if queue == "" {
		queue = cfg.Queue
	}
	id, err := sched.ScheduleAt(ctx, req, opts.at, later.QueueOpt(queue))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

// readStdin returns everything on r. An interactive terminal counts as no
// input rather than blocking.
func readStdin(r io.Reader) ([]byte, error) {
	if f, ok := r.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return nil, errEmptyStdin
		}
	}
	data, err := io.ReadAll(io.LimitReader(r, 2*security.MaxRequestBodySize))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyStdin
	}
	return data, nil
}

func buildRequest(opts *rootOptions, input []byte) (later.Request, error) {
	if opts.raw {
		return parseRawRequest(opts, input)
	}
	if opts.url == "" {
		return later.Request{}, errMissingURL
	}
	method := opts.method
	if method == "" {
		method = http.MethodPost
	}
	h, err := parseHeaders(opts.headers)
	if err != nil {
		return later.Request{}, err
	}
	req := later.Request{Method: method, URL: opts.url, Body: input}
	for _, kv := range h {
		req = req.WithHeader(kv.Name, kv.Value)
	}
	return req, nil
}

// parseRawRequest reads a full HTTP/1.1 request. A relative request target
// is resolved against --url when given, otherwise against http://Host.
func parseRawRequest(opts *rootOptions, input []byte) (later.Request, error) {
	hr, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(input)))
	if err != nil {
		return later.Request{}, fmt.Errorf("%w: %w", later.ErrInvalidRequest, err)
	}
	if !hr.URL.IsAbs() {
		base := opts.url
		if base == "" {
			base = "http://" + hr.Host
		}
		target := strings.TrimSuffix(base, "/") + hr.URL.RequestURI()
		if hr.URL, err = hr.URL.Parse(target); err != nil {
			return later.Request{}, fmt.Errorf("%w: %w", later.ErrInvalidRequest, err)
		}
	}
	if opts.method != "" {
		hr.Method = opts.method
	}
	h, err := parseHeaders(opts.headers)
	if err != nil {
		return later.Request{}, err
	}
	for _, kv := range h {
		hr.Header.Set(kv.Name, kv.Value)
	}
	return later.SnapshotRequest(hr)
}

func parseHeaders(lines []string) ([]later.Header, error) {
	out := make([]later.Header, 0, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: header %q is not key:value", later.ErrInvalidRequest, line)
		}
		out = append(out, later.Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return out, nil
}

func parseIDs(raw []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", errInvalidID, s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printJobs(ctx context.Context, w io.Writer, sched *later.Scheduler, queue string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQUEUE\tTIME\tMETHOD\tURL")
	for job, err := range sched.List(ctx, queue) {
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			job.ID, job.Queue, job.FireAt.Local().Format(time.RFC3339), job.Request.Method, job.Request.URL)
	}
	return tw.Flush()
}

func loadConfig(opts *rootOptions, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := config.FromEnv(cfg); err != nil {
		return nil, nil, err
	}
	if opts.database != "" {
		cfg.Backend = config.BackendSQL
		cfg.Database = opts.database
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("%w %q", errInvalidLevel, cfg.Log.Level)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}
