// Package main provides the entry point for the nca-go CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"nca-go/internal/api"
	"nca-go/internal/chat"
	"nca-go/internal/config"
	"nca-go/internal/highlight"
	"nca-go/internal/logger"
	"nca-go/internal/render"
	"nca-go/internal/replay"
	"nca-go/internal/session"
	"nca-go/internal/ui"
)

const version = "nca-go v0.1.0"

// options holds the parsed command line.
type options struct {
	configPath string
	sessionID  string
	newSession bool
	list       bool
	replayDir  string
	export     string
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("nca", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.sessionID, "session", "", "Conversation ID to continue")
	fs.BoolVar(&opts.newSession, "new", false, "Start a new conversation")
	fs.BoolVar(&opts.list, "list", false, "List known conversations and exit")
	fs.StringVar(&opts.replayDir, "replay", "", "Replay the *.sse captures in a directory and exit")
	fs.StringVar(&opts.export, "export", "", "Write the conversation (or the replay report) as JSON to a file and exit")
	fs.BoolVar(&opts.version, "version", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.newSession && opts.sessionID != "" {
		return nil, errors.New("-new and -session are mutually exclusive")
	}
	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if opts.version {
		fmt.Fprintln(stdout, version)
		return 0
	}

	// Load configuration
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: %v, using info\n", err)
		level = logger.INFO
	}
	if _, err := logger.SetupLogging(config.ExpandPath(cfg.Log.Dir), level, cfg.Log.Format == "json"); err != nil {
		fmt.Fprintf(stderr, "Warning: file logging disabled: %v\n", err)
	}
	log := logger.GetLogger()

	if opts.replayDir != "" {
		return runReplay(opts, log, stdout, stderr)
	}

	var store session.Store
	if s, err := session.NewSQLiteStore(config.ExpandPath(cfg.Store.Path)); err != nil {
		// Conversations still work, they just are not listed later.
		log.WarnFields("session index unavailable", logger.Fields{"err": err})
		fmt.Fprintf(stderr, "Warning: session index unavailable: %v\n", err)
	} else {
		store = s
		defer s.Close()
	}

	ctx := context.Background()

	if opts.list {
		if store == nil {
			return 1
		}
		return listSessions(ctx, store, stdout, stderr)
	}

	apiCfg, err := api.ConfigFromServer(&cfg.Server)
	if err != nil {
		log.Warnf("%v, sending requests without a token", err)
	}
	apiCfg.Logger = log
	client := api.NewClient(apiCfg)

	sess, resume, err := pickSession(ctx, opts, store)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	c := chat.New(client, sess, chat.Options{Store: store, Logger: log})

	if opts.export != "" {
		return exportConversation(ctx, c, opts.export, stdout, stderr)
	}

	// Detect if stdin is a TTY to decide TUI vs plain REPL mode
	f, isFile := stdin.(*os.File)
	isTTY := isFile && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))

	if !isTTY {
		return runREPL(ctx, c, resume, stdin, stdout, stderr)
	}

	// ── TUI mode ──
	loader := newLoader(cfg, client, log)
	defer loader.Wait()

	bridge := ui.NewBridge(c, loader)
	defer bridge.Close()

	model := ui.NewModel(ui.Options{
		Chat:         c,
		Events:       bridge.Events(),
		Terminal:     render.NewTerminal(render.NewPipeline(), loader),
		GlamourStyle: cfg.UI.Style,
		Reveal:       time.Duration(cfg.UI.RevealMs) * time.Millisecond,
		LoadHistory:  resume,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(stderr, "TUI error: %v\n", err)
		return 1
	}
	c.Cancel()
	return 0
}

// newLoader wires the language loader to the server, falling back to the
// definitions bundled with chroma.
func newLoader(cfg *config.Config, client *api.Client, log *logger.Logger) *highlight.Loader {
	manifest := highlight.DefaultManifest()
	manifest.Merge(cfg.Highlight.LanguageRequires())

	var fetcher highlight.Fetcher = highlight.FetcherFunc(client.FetchLanguage)
	if cfg.Highlight.BuiltinFallback {
		fetcher = highlight.Chain{fetcher, highlight.BuiltinFetcher{Manifest: manifest}}
	}

	return highlight.NewLoader(highlight.Options{
		Manifest:       manifest,
		Fetcher:        fetcher,
		Preloaded:      cfg.Highlight.Preloaded,
		Rate:           cfg.Highlight.FetchRate,
		Burst:          cfg.Highlight.FetchBurst,
		Style:          cfg.Highlight.Style,
		RequestTimeout: cfg.Server.RequestTimeout(),
		Logger:         log,
	})
}

// pickSession resolves the conversation to open. resume reports whether it
// may already have history on the server.
func pickSession(ctx context.Context, opts *options, store session.Store) (*session.Session, bool, error) {
	switch {
	case opts.newSession:
		return session.New(), false, nil
	case opts.sessionID != "":
		if store != nil {
			s, err := store.Load(ctx, opts.sessionID)
			if err == nil {
				return s, true, nil
			}
			if !errors.Is(err, session.ErrNotFound) {
				return nil, false, err
			}
		}
		return session.Existing(opts.sessionID), true, nil
	}

	if store != nil {
		list, err := store.List(ctx)
		if err != nil {
			return nil, false, err
		}
		if len(list) > 0 {
			return list[0], true, nil
		}
	}
	return session.New(), false, nil
}

func listSessions(ctx context.Context, store session.Store, stdout, stderr io.Writer) int {
	list, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error listing sessions: %v\n", err)
		return 1
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "No conversations yet.")
		return 0
	}
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(stdout, "%s  %s  %s\n", s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), title)
	}
	return 0
}

func exportConversation(ctx context.Context, c *chat.Chat, path string, stdout, stderr io.Writer) int {
	n, err := c.Load(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading conversation: %v\n", err)
		return 1
	}
	if err := c.Transcript().Save(path); err != nil {
		fmt.Fprintf(stderr, "Error exporting conversation: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Exported %d messages of %s to %s\n", n, c.Session().ID, path)
	return 0
}

func runReplay(opts *options, log *logger.Logger, stdout, stderr io.Writer) int {
	cases, err := replay.Load(opts.replayDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading captures: %v\n", err)
		return 1
	}
	if len(cases) == 0 {
		fmt.Fprintf(stderr, "No *.sse captures in %s\n", opts.replayDir)
		return 1
	}

	report := replay.NewRunner(log).Run(context.Background(), opts.replayDir, cases)
	replay.PrintReport(stdout, report)

	if opts.export != "" {
		if err := replay.SaveReport(report, opts.export); err != nil {
			fmt.Fprintf(stderr, "Error saving report: %v\n", err)
			return 1
		}
	}
	if report.Summary.Failed > 0 {
		return 1
	}
	return 0
}
