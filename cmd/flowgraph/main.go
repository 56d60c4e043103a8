package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/vanderheijden86/flowgraph/pkg/config"
	"github.com/vanderheijden86/flowgraph/pkg/encode"
	"github.com/vanderheijden86/flowgraph/pkg/export"
	"github.com/vanderheijden86/flowgraph/pkg/host"
	"github.com/vanderheijden86/flowgraph/pkg/loader"
	"github.com/vanderheijden86/flowgraph/pkg/logging"
	"github.com/vanderheijden86/flowgraph/pkg/metrics"
	"github.com/vanderheijden86/flowgraph/pkg/server"
	"github.com/vanderheijden86/flowgraph/pkg/session"
	"github.com/vanderheijden86/flowgraph/pkg/tui"
	"github.com/vanderheijden86/flowgraph/pkg/version"
	"github.com/vanderheijden86/flowgraph/pkg/watcher"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "flowgraph: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	csvPath    string
	url        string
	configPath string
	htmlOut    string
	snapshot   string
	exportFmt  string
	exportOut  string
	exportRoot string
	exportDep  int
	highlight  string
	title      string
	watch      bool
	serve      string
	debug      bool
	jsonLogs   bool
	logFile    string
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("flowgraph", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.csvPath, "csv", "", "Flow CSV file to load")
	fs.StringVar(&o.url, "url", "", "Fetch the flow CSV from this http(s) URL")
	fs.StringVar(&o.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/flowgraph/config.yaml)")
	fs.StringVar(&o.htmlOut, "o", "", "Write an interactive HTML graph to this file")
	fs.StringVar(&o.snapshot, "snapshot", "", "Write a static snapshot (.svg or .png)")
	fs.StringVar(&o.exportFmt, "export", "", "Export the graph as json, dot or mermaid")
	fs.StringVar(&o.exportOut, "export-out", "", "Export destination (default stdout)")
	fs.StringVar(&o.exportRoot, "export-root", "", "Export only hosts connected to this host")
	fs.IntVar(&o.exportDep, "export-depth", 0, "Max hops from -export-root (0 = unlimited)")
	fs.StringVar(&o.highlight, "highlight", "", "Comma-separated host ids drawn enlarged")
	fs.StringVar(&o.title, "title", "", "Page and snapshot title")
	fs.BoolVar(&o.watch, "watch", false, "Reload when the -csv file changes")
	fs.StringVar(&o.serve, "serve", "", "Serve the live graph on this address (e.g. 127.0.0.1:8080)")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&o.jsonLogs, "log-json", false, "Log as JSON")
	fs.StringVar(&o.logFile, "log-file", "", "Write logs to this file instead of stderr")
	fs.BoolVar(&o.version, "version", false, "Show version")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: flowgraph (-csv file | -url URL) [options]")
		fmt.Fprintln(stderr, "\nBuilds a host graph from a network flow CSV.")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.version {
		return o, nil
	}
	if o.csvPath != "" && o.url != "" {
		return o, errors.New("-csv and -url are mutually exclusive")
	}
	if o.csvPath == "" && o.url == "" && o.serve == "" {
		return o, errors.New("one of -csv, -url or -serve is required")
	}
	if o.watch && o.csvPath == "" {
		return o, errors.New("-watch requires -csv")
	}
	if o.exportFmt != "" {
		if _, err := export.ParseGraphExportFormat(o.exportFmt); err != nil {
			return o, err
		}
	}
	if o.exportDep < 0 {
		return o, errors.New("-export-depth must not be negative")
	}
	if o.exportDep > 0 && o.exportRoot == "" {
		return o, errors.New("-export-depth requires -export-root")
	}
	return o, nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(o options) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if o.configPath != "" {
		if _, statErr := os.Stat(o.configPath); statErr != nil {
			return cfg, fmt.Errorf("config: %w", statErr)
		}
		cfg, err = config.LoadFrom(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, err
	}

	if ids := config.ParseHighlightList(o.highlight); len(ids) > 0 {
		cfg.Encoding.HighlightIDs = ids
	}
	if o.title != "" {
		cfg.Host.Title = o.title
	}
	if o.serve != "" {
		cfg.Server.Addr = o.serve
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintf(stdout, "flowgraph %s\n", version.String())
		return nil
	}

	styled := isTerminal(stdout)
	// The watch view owns the terminal; logs go to -log-file or nowhere.
	useUI := o.watch && o.serve == "" && styled && !(o.exportFmt != "" && o.exportOut == "")

	log, err := newLogger(o, useUI)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	var hosts host.Multi
	if o.htmlOut != "" {
		hosts = append(hosts, export.NewHTMLHost(export.InteractiveGraphOptions{
			Title:            cfg.Host.Title,
			LibraryURL:       cfg.Host.LibraryURL,
			Background:       cfg.Host.Background,
			ReleaseOnDragEnd: cfg.Host.ReleaseOnDragEnd,
			Path:             o.htmlOut,
		}, log))
	}

	sess := session.New(session.Options{
		Encoder: encode.NewEncoder(cfg.EncoderConfig()),
		Host:    hosts,
		Logger:  log,
		Metrics: reg,
	})
	defer sess.Close()

	report := func(res *session.Result) error {
		if err := writeOutputs(ctx, stdout, o, cfg, res); err != nil {
			return err
		}
		if o.exportFmt == "" || o.exportOut != "" {
			tui.WriteSummary(stdout, res, outputPaths(o), styled)
		}
		return nil
	}

	var initial *session.Result
	if src := sourceFromFlags(o, cfg); src != nil {
		res, err := sess.Load(ctx, src)
		if err != nil {
			return err
		}
		if useUI {
			err = writeOutputs(ctx, stdout, o, cfg, res)
		} else {
			err = report(res)
		}
		if err != nil {
			return err
		}
		initial = res
	}

	if !o.watch {
		if o.serve != "" {
			return server.New(sess, cfg, log, reg).ListenAndServe(ctx)
		}
		return nil
	}

	w, err := watcher.New(o.csvPath, sess.Reload,
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithPollInterval(cfg.Watch.PollInterval),
		watcher.WithForcePoll(cfg.Watch.ForcePoll),
		watcher.WithLogger(log),
	)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watch %s: %w", o.csvPath, err)
	}
	defer w.Stop()

	if useUI {
		return runWatchUI(tui.NewModel(ctx, tui.Options{
			Status:  w.Status(),
			Events:  w.Events(),
			Reload:  sess.Reload,
			Initial: initial,
			Outputs: outputPaths(o),
			Publish: func(res *session.Result) error {
				return writeOutputs(ctx, stdout, o, cfg, res)
			},
		}))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return followEvents(gctx, w.Events(), report, stderr, log)
	})
	if o.serve != "" {
		g.Go(func() error {
			return server.New(sess, cfg, log, reg).ListenAndServe(gctx)
		})
	}
	return g.Wait()
}

func newLogger(o options, useUI bool) (*zap.Logger, error) {
	if useUI && o.logFile == "" {
		return logging.Nop(), nil
	}
	return logging.New(logging.Options{Debug: o.debug, JSON: o.jsonLogs, File: o.logFile})
}

// followEvents reports each reload until ctx is done. Failed reloads keep the
// previous outputs in place.
func followEvents(ctx context.Context, events <-chan watcher.Event, report func(*session.Result) error, stderr io.Writer, log *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if ev.Err != nil {
				fmt.Fprintf(stderr, "flowgraph: reload: %v\n", ev.Err)
				continue
			}
			if err := report(ev.Result); err != nil {
				log.Error("write outputs", zap.Error(err))
			}
		}
	}
}

// runWatchUI runs the watch view until the user quits or a signal arrives.
func runWatchUI(m tui.Model) error {
	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	)

	runDone := make(chan struct{})
	defer close(runDone)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-runDone:
			return
		case <-sigCh:
		}

		p.Quit()

		select {
		case <-runDone:
			return
		case <-sigCh:
		case <-time.After(5 * time.Second):
		}

		p.Kill()
	}()

	_, err := p.Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func sourceFromFlags(o options, cfg config.Config) loader.Source {
	switch {
	case o.csvPath != "":
		return loader.FileSource{Path: o.csvPath}
	case o.url != "":
		return loader.URLSource{URL: o.url, Client: newHTTPClient(cfg)}
	default:
		return nil
	}
}

func newHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{Timeout: cfg.Fetch.Timeout}
}

// writeOutputs writes the snapshot and export side by side.
func writeOutputs(ctx context.Context, stdout io.Writer, o options, cfg config.Config, res *session.Result) error {
	g, _ := errgroup.WithContext(ctx)

	if o.snapshot != "" {
		g.Go(func() error {
			return export.SaveGraphSnapshot(export.GraphSnapshotOptions{
				Path:    o.snapshot,
				Title:   cfg.Host.Title,
				Graph:   res.Graph,
				Summary: &res.Summary,
			})
		})
	}
	if o.exportFmt != "" {
		g.Go(func() error {
			format, _ := export.ParseGraphExportFormat(o.exportFmt)
			out, err := export.ExportGraph(res.Graph, &res.Summary, export.GraphExportConfig{
				Format: format,
				Root:   o.exportRoot,
				Depth:  o.exportDep,
			})
			if err != nil {
				return err
			}
			var data []byte
			if format == export.GraphFormatJSON {
				if data, err = out.JSON(); err != nil {
					return err
				}
				data = append(data, '\n')
			} else {
				data = []byte(out.Graph)
			}
			if o.exportOut == "" {
				_, err = stdout.Write(data)
				return err
			}
			return os.WriteFile(o.exportOut, data, 0o644)
		})
	}
	return g.Wait()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// outputPaths lists the files each load writes.
func outputPaths(o options) []string {
	var outputs []string
	if o.htmlOut != "" {
		outputs = append(outputs, o.htmlOut)
	}
	if o.snapshot != "" {
		outputs = append(outputs, o.snapshot)
	}
	if o.exportOut != "" {
		outputs = append(outputs, o.exportOut)
	}
	return outputs
}
