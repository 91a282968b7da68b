// ghostwriter - an in-editor AI assistant core with a terminal REPL.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/morganforge/ghostwriter/internal/config"
	ctxfrag "github.com/morganforge/ghostwriter/internal/context"
	"github.com/morganforge/ghostwriter/internal/functions"
	"github.com/morganforge/ghostwriter/internal/openai"
	"github.com/morganforge/ghostwriter/internal/phantom"
	"github.com/morganforge/ghostwriter/internal/session"
	"github.com/morganforge/ghostwriter/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#64748B", Dark: "#94A3B8"})

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"})

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"})

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"})
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// replInput provides input history and line editing for the REPL.
// USABILITY: Supports arrow keys for history navigation and line editing.
type replInput struct {
	line        *liner.State
	historyFile string
}

func newReplInput() *replInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	in := &replInput{
		line:        line,
		historyFile: filepath.Join(configDir, "repl_history"),
	}
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (in *replInput) read(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

// close saves history with owner-only permissions and releases the
// terminal.
func (in *replInput) close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			in.line.WriteHistory(f)
			f.Close()
		}
	}
	in.line.Close()
}

// =============================================================================
// PRESENTER
// =============================================================================

// replPresenter streams session output to the terminal. In phantom mode
// it also drives the overlay so the action commands work afterwards.
type replPresenter struct {
	mu          sync.Mutex
	lastSession string
	printed     int
	lastText    string
	overlay     *phantom.Phantom
}

// lastResponse returns the most recently completed response text.
func (p *replPresenter) lastResponse() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastText
}

// setOverlay attaches the phantom the next session streams into.
func (p *replPresenter) setOverlay(ph *phantom.Phantom) {
	p.mu.Lock()
	p.overlay = ph
	p.mu.Unlock()
}

// takeOverlay detaches the overlay so a later session, phantom or not,
// never touches it again.
func (p *replPresenter) takeOverlay() *phantom.Phantom {
	p.mu.Lock()
	defer p.mu.Unlock()
	overlay := p.overlay
	p.overlay = nil
	return overlay
}

// Update prints only the text appended since the previous update; the
// coordinator hands over cumulative text every time.
func (p *replPresenter) Update(sessionID, text string) {
	p.mu.Lock()
	if sessionID != p.lastSession {
		p.lastSession = sessionID
		p.printed = 0
	}
	suffix := text[p.printed:]
	p.printed = len(text)
	overlay := p.overlay
	p.mu.Unlock()

	fmt.Print(suffix)
	if overlay != nil {
		overlay.Update(text)
	}
}

func (p *replPresenter) Done(sessionID, text string, usage openai.Usage) {
	p.mu.Lock()
	p.lastText = text
	p.mu.Unlock()
	if overlay := p.takeOverlay(); overlay != nil {
		overlay.Finalize(text)
		fmt.Println()
		fmt.Println(infoStyle.Render("[Phantom ready: /phantom copy|append|replace|tab|add|close]"))
	} else {
		fmt.Println()
	}
	if usage.TotalTokens > 0 {
		fmt.Fprintf(os.Stderr, "%s %d tokens\n", infoStyle.Render("[Stats]"), usage.TotalTokens)
	}
	fmt.Println()
}

func (p *replPresenter) Canceled(sessionID string) {
	if overlay := p.takeOverlay(); overlay != nil {
		overlay.Cancel()
	}
	fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
}

func (p *replPresenter) Fail(sessionID string, err error) {
	if overlay := p.takeOverlay(); overlay != nil {
		overlay.Cancel()
	}
	fmt.Fprintf(os.Stderr, "\n%s %v\n", errorStyle.Render("[Error]"), err)
}

func (p *replPresenter) Warn(sessionID, message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", warningStyle.Render("[Warning]"), message)
}

// =============================================================================
// APPLICATION STATE
// =============================================================================

type app struct {
	cfg       *config.Config
	store     *storage.Store
	marked    *ctxfrag.Set
	watcher   *ctxfrag.Watcher
	coord     *session.Coordinator
	presenter *replPresenter
	phantoms  *phantom.Registry
	input     *replInput

	scope     string
	anchorSeq int

	// prompts remembers, per phantom id, the user text that produced it,
	// so "add to history" pairs the right turns no matter how many
	// submissions happened since.
	prompts map[string]string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		os.Exit(1)
	}
}

func run() error {
	projectRoot, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithProject(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config.SetGlobal(cfg)

	client, err := openai.NewClient(cfg)
	if err != nil {
		return err
	}

	dbPath := cfg.History.DatabasePath
	if dbPath == "" {
		dbPath, err = storage.DefaultPath()
		if err != nil {
			return err
		}
	}
	store := storage.NewStore(dbPath)
	defer store.Close()

	presenter := &replPresenter{}

	marked := ctxfrag.NewSet()
	watcher, err := ctxfrag.NewWatcher(marked, func(path string) {
		fmt.Fprintf(os.Stderr, "%s marked file removed from disk: %s\n",
			warningStyle.Render("[Warning]"), path)
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	assemblerCfg := ctxfrag.DefaultAssemblerConfig()
	if cfg.Output.BuildOutputLimit > 0 {
		assemblerCfg.OutputLineLimit = cfg.Output.BuildOutputLimit
	}
	assembler := ctxfrag.NewAssembler(assemblerCfg)

	a := &app{
		cfg:       cfg,
		store:     store,
		marked:    marked,
		watcher:   watcher,
		coord:     session.New(cfg, client, store, assembler, marked, presenter),
		presenter: presenter,
		phantoms:  phantom.NewRegistry(),
		input:     newReplInput(),
		scope:     storage.ResolveScope(cfg.History.CachePrefix),
		prompts:   make(map[string]string),
	}
	defer a.input.close()

	// Ctrl+C cancels the in-flight session; at the prompt liner turns it
	// into ErrPromptAborted instead.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigChan {
			a.coord.Cancel()
		}
	}()

	printWelcome(a)
	return a.loop()
}

// =============================================================================
// REPL LOOP
// =============================================================================

func (a *app) loop() error {
	for {
		input, err := a.input.read(promptStyle.Render("ghostwriter> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF both exit cleanly
			fmt.Println()
			fmt.Println(infoStyle.Render("Goodbye!"))
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			cont, err := a.handleSlashCommand(input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !cont {
				fmt.Println(infoStyle.Render("Goodbye!"))
				return nil
			}
			continue
		}

		a.submit(input)
	}
}

// submit starts a session for the prompt; in phantom mode it creates the
// overlay the response streams into.
func (a *app) submit(text string) {
	if a.cfg.Output.Mode == config.ModePhantom {
		a.anchorSeq++
		anchor := phantom.Anchor{Document: "repl", Line: a.anchorSeq}
		ph, err := a.phantoms.Create(anchor, a.cfg.Output.PhantomCodeOnly)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			return
		}
		a.prompts[ph.ID()] = text
		a.presenter.setOverlay(ph)
	}

	fmt.Println()
	a.coord.Submit(ctxfrag.Input{}, text)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (a *app) handleSlashCommand(cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?":
		printHelp()
		return true, nil

	case "/mode":
		return true, a.handleMode(args)

	case "/mark":
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /mark <file>")
		}
		return true, a.mark(args[0])

	case "/unmark":
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /unmark <file>")
		}
		return true, a.unmark(args[0])

	case "/context":
		a.printContext()
		return true, nil

	case "/reset":
		if err := a.store.Reset(a.scope); err != nil {
			return true, err
		}
		fmt.Println(commandStyle.Render("[History cleared]"))
		return true, nil

	case "/export":
		return true, a.export(args)

	case "/apply":
		return true, a.apply()

	case "/status":
		a.printStatus()
		return true, nil

	case "/phantom":
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /phantom <copy|append|replace|tab|add|close>")
		}
		return true, a.handlePhantom(args[0])

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

func (a *app) handleMode(args []string) error {
	if len(args) == 0 {
		fmt.Printf("%s %s\n", infoStyle.Render("[Mode]"), commandStyle.Render(a.cfg.Output.Mode))
		return nil
	}
	mode := strings.ToLower(args[0])
	if mode != config.ModeChat && mode != config.ModePhantom {
		return fmt.Errorf("unknown mode %q (chat or phantom)", args[0])
	}
	a.cfg.Output.Mode = mode
	fmt.Printf("%s Switched to %s mode\n", commandStyle.Render("[OK]"), mode)
	return nil
}

func (a *app) mark(path string) error {
	if a.marked.Contains(path) {
		fmt.Printf("%s already marked: %s\n", infoStyle.Render("[Context]"), path)
		return nil
	}
	if _, err := a.watcher.Mark(path); err != nil {
		fmt.Fprintf(os.Stderr, "%s file marked but not watchable: %v\n",
			warningStyle.Render("[Warning]"), err)
	}
	fmt.Printf("%s marked: %s\n", commandStyle.Render("[Context]"), path)
	return nil
}

func (a *app) unmark(path string) error {
	if !a.marked.Contains(path) {
		fmt.Printf("%s not marked: %s\n", infoStyle.Render("[Context]"), path)
		return nil
	}
	if _, err := a.watcher.Mark(path); err != nil {
		return err
	}
	fmt.Printf("%s unmarked: %s\n", commandStyle.Render("[Context]"), path)
	return nil
}

func (a *app) printContext() {
	files := a.marked.List()
	if len(files) == 0 {
		fmt.Println(infoStyle.Render("[No files marked]"))
		return
	}
	fmt.Println(infoStyle.Render("Marked files (in prompt order):"))
	for i, f := range files {
		fmt.Printf("  %d. %s\n", i+1, f)
	}
}

func (a *app) export(args []string) error {
	if len(args) == 0 {
		return a.store.ExportMarkdown(a.scope, os.Stdout)
	}
	f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := a.store.ExportMarkdown(a.scope, f); err != nil {
		return err
	}
	fmt.Printf("%s exported to %s\n", commandStyle.Render("[OK]"), args[0])
	return nil
}

// apply runs the patch envelope from the last response against the
// working tree.
func (a *app) apply() error {
	text := a.presenter.lastResponse()
	if text == "" {
		return fmt.Errorf("no response to apply")
	}
	result, err := functions.ApplyPatch(text, functions.NewOSEditor(""))
	if result != "" {
		fmt.Println(infoStyle.Render(result))
	}
	return err
}

func (a *app) printStatus() {
	st := a.coord.Status()
	count, err := a.store.TurnCount(a.scope)
	if err != nil {
		count = 0
	}

	fmt.Println()
	fmt.Println(welcomeStyle.Render("Session Status"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Printf("  %s %s\n", infoStyle.Render("Model:"), commandStyle.Render(a.cfg.Assistant.Model))
	fmt.Printf("  %s %s\n", infoStyle.Render("Mode:"), commandStyle.Render(a.cfg.Output.Mode))
	fmt.Printf("  %s %s\n", infoStyle.Render("Scope:"), a.scope)
	fmt.Printf("  %s %s\n", infoStyle.Render("State:"), string(st.State))
	fmt.Printf("  %s %d\n", infoStyle.Render("History turns:"), count)
	fmt.Printf("  %s %d\n", infoStyle.Render("Tokens used:"), st.TotalTokens)
	fmt.Printf("  %s %d\n", infoStyle.Render("Marked files:"), a.marked.Len())
	fmt.Println()
}

// handlePhantom drives the most recent overlay's actions.
func (a *app) handlePhantom(action string) error {
	ph := a.latestPhantom()
	if ph == nil {
		return fmt.Errorf("no phantom to act on")
	}

	switch strings.ToLower(action) {
	case "copy":
		if text, ok := ph.Copy(); ok {
			fmt.Println(text)
		}
	case "append":
		if text, ok := ph.Append(); ok {
			fmt.Println(text)
		}
	case "replace":
		if text, ok := ph.Replace(); ok {
			fmt.Println(text)
		}
	case "tab":
		if text, ok := ph.OpenInTab(); ok {
			fmt.Println(text)
		}
	case "add":
		prompt := a.prompts[ph.ID()]
		err := ph.AddToHistory(func(text string) error {
			return a.store.AppendExchange(a.scope,
				storage.Turn{Role: storage.RoleUser, Content: prompt},
				storage.Turn{Role: storage.RoleAssistant, Content: text})
		})
		if err != nil {
			return err
		}
		delete(a.prompts, ph.ID())
		fmt.Println(commandStyle.Render("[Added to history]"))
	case "close":
		ph.Close()
		delete(a.prompts, ph.ID())
		fmt.Println(commandStyle.Render("[Phantom closed]"))
	default:
		return fmt.Errorf("unknown phantom action %q", action)
	}
	return nil
}

func (a *app) latestPhantom() *phantom.Phantom {
	ph, ok := a.phantoms.Get(phantom.Anchor{Document: "repl", Line: a.anchorSeq})
	if !ok {
		return nil
	}
	return ph
}

// =============================================================================
// DISPLAY
// =============================================================================

func printWelcome(a *app) {
	fmt.Println()
	fmt.Println(welcomeStyle.Render("ghostwriter " + Version))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n", infoStyle.Render("Model:"), commandStyle.Render(a.cfg.Assistant.Model))
	fmt.Printf("%s %s\n", infoStyle.Render("Mode:"), commandStyle.Render(a.cfg.Output.Mode))
	fmt.Printf("%s %s\n", infoStyle.Render("Scope:"), a.scope)
	fmt.Println()
	fmt.Println(infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

func printHelp() {
	fmt.Println()
	fmt.Println(welcomeStyle.Render("Available Commands"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/mode [chat|phantom]", "Show or switch output mode"},
		{"/mark <file>", "Add a file to the prompt context"},
		{"/unmark <file>", "Remove a file from the prompt context"},
		{"/context", "List marked files"},
		{"/reset", "Clear this scope's conversation history"},
		{"/export [file]", "Export the transcript as Markdown"},
		{"/apply", "Apply the last response's patch to the working tree"},
		{"/status", "Show session status"},
		{"/phantom <action>", "Act on the last phantom (copy, append, replace, tab, add, close)"},
		{"/quit, /q", "Exit"},
	}
	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-22s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("Tip: Ctrl+C cancels the in-flight response, Ctrl+D exits"))
	fmt.Println()
}
