package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/antibyte/flail/pkg/configuration"
	"github.com/antibyte/flail/pkg/emit"
	"github.com/antibyte/flail/pkg/flail"
	"github.com/antibyte/flail/pkg/logger"
	"github.com/antibyte/flail/pkg/server"
	"github.com/antibyte/flail/pkg/store"
	tlsmanager "github.com/antibyte/flail/pkg/tls"

	"github.com/jedib0t/go-pretty/v6/table"
)

// OperatorPasswordEnv holds the password for -add-operator.
const OperatorPasswordEnv = "FLAIL_OPERATOR_PASSWORD"

func main() {
	configFile := flag.String("config", "settings.cfg", "Path to the configuration file")
	outDir := flag.String("out", "", "Directory for boilerplate.c and byteArray.txt (default [Output] dir)")
	noFiles := flag.Bool("no-files", false, "Only print the byte array, write no files")
	history := flag.Bool("history", false, "Record the build in the build store")
	showTable := flag.Bool("table", false, "Print the program as a table of (opcode, value) pairs")
	listBuilds := flag.Int("builds", 0, "List the N most recent recorded builds and exit")
	serve := flag.Bool("serve", false, "Run the compile server")
	addOperator := flag.String("add-operator", "", "Create a server operator, password from "+OperatorPasswordEnv)
	verbose := flag.Bool("v", false, "Log everything to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] script.fl\n       %s -serve\n\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := configuration.Initialize(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing configuration: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		logger.SetOutput(os.Stderr, logger.DEBUG)
	} else if err := logger.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.ConfigInfo("Configuration loaded from: %s", *configFile)

	var err error
	switch {
	case *addOperator != "":
		err = runAddOperator(*addOperator)
	case *listBuilds > 0:
		err = runListBuilds(*listBuilds)
	case *serve:
		err = runServer()
	default:
		if flag.NArg() != 1 {
			fmt.Fprintf(os.Stderr, "\nFlail: No file was given.\n\n")
			flag.Usage()
			os.Exit(2)
		}
		dir := *outDir
		if dir == "" {
			dir = configuration.GetString("Output", "dir", ".")
		}
		record := *history || configuration.GetBool("Database", "enabled", false)
		err = runCompile(flag.Arg(0), dir, !*noFiles, record, *showTable)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "\n%v\n\n", err)
		logger.Close()
		os.Exit(1)
	}
}

// compilerOptions reads the [Compiler] section.
func compilerOptions() []flail.Option {
	opts := []flail.Option{
		flail.WithMaxLineLength(configuration.GetInt("Compiler", "max_line_length", flail.DefaultMaxLineLength)),
		flail.WithMaxParameter(configuration.GetInt("Compiler", "max_parameter", 0)),
		flail.WithMaxProgramSize(configuration.GetInt("Compiler", "max_program_kb", 16384) * 1024),
	}
	name := configuration.GetString("Compiler", "default_mode", "intensity")
	if mode, ok := flail.ParseMode(name); ok {
		opts = append(opts, flail.WithInitialMode(mode))
	} else {
		logger.ConfigWarn("Unknown default_mode %q, using intensity", name)
	}
	return opts
}

func runCompile(path, outDir string, writeFiles, record, showTable bool) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("can't open file %s: %w", path, err)
	}
	if len(src) == 0 {
		return fmt.Errorf("no script provided or empty file: %s", path)
	}

	prog, err := flail.CompileString(string(src), compilerOptions()...)
	if err != nil {
		return err
	}
	logger.CompilerInfo("Compiled %s: %d lines, %d bytes", path, prog.Lines, prog.Size())

	for _, w := range prog.Warnings {
		fmt.Fprintln(os.Stderr, w)
	}
	if configuration.GetBool("Output", "print_dump", true) {
		if err := emit.Dump(os.Stdout, prog); err != nil {
			return err
		}
	}

	if showTable {
		initial, _ := flail.ParseMode(configuration.GetString("Compiler", "default_mode", "intensity"))
		if initial == 0 {
			initial = flail.ModeIntensity
		}
		if err := emit.PairTable(os.Stdout, prog, initial); err != nil {
			return err
		}
	}

	if writeFiles {
		written, err := emit.WriteFiles(outDir, prog)
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Printf("Wrote %s\n", p)
		}
	}

	if record {
		if err := recordBuild(src, prog); err != nil {
			// The program itself is fine.
			fmt.Fprintf(os.Stderr, "Warning: build not recorded: %v\n", err)
		}
	}
	return nil
}

func recordBuild(src []byte, prog *flail.Program) error {
	st, err := store.Open(configuration.GetString("Database", "path", "flail.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	warnings := make([]string, len(prog.Warnings))
	for i, w := range prog.Warnings {
		warnings[i] = w.String()
	}

	ctx := context.Background()
	id, err := st.SaveBuild(ctx, store.BuildRecord{
		Script:   string(src),
		Program:  prog.Bytes(),
		Pairs:    len(prog.Pairs()),
		Warnings: warnings,
		Operator: os.Getenv("USER"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Build %s recorded\n", id)

	if keep := configuration.GetInt("Database", "history_limit", 500); keep > 0 {
		_, err = st.PruneBuilds(ctx, keep)
	}
	return err
}

func runListBuilds(n int) error {
	st, err := store.Open(configuration.GetString("Database", "path", "flail.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	builds, err := st.ListBuilds(context.Background(), n)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Recorded builds (%d)", len(builds)))
	t.AppendHeader(table.Row{"ID", "Script", "Pairs", "Bytes", "Warnings", "Operator", "Created"})
	for _, b := range builds {
		t.AppendRow(table.Row{b.ID, shortHash(b.ScriptHash), b.Pairs, len(b.Program), len(b.Warnings), b.Operator, b.CreatedAt.Format(time.DateTime)})
	}
	t.Render()
	return nil
}

// shortHash abbreviates a script hash for display.
func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func runAddOperator(name string) error {
	password := os.Getenv(OperatorPasswordEnv)
	if password == "" {
		return fmt.Errorf("set %s to the password of the new operator", OperatorPasswordEnv)
	}

	st, err := store.Open(configuration.GetString("Database", "path", "flail.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateOperator(context.Background(), name, password); err != nil {
		return err
	}
	fmt.Printf("Operator %s created\n", name)
	return nil
}

func runServer() error {
	dbPath := configuration.GetString("Database", "path", "flail.db")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Fatal(logger.AreaDatabase, "Database initialization failed: %v", err)
	}
	defer st.Close()

	tlsManager, err := tlsmanager.NewManager(tlsmanager.ConfigFromSettings())
	if err != nil {
		return err
	}

	app := server.New(st).Routes()
	plain, secure := tlsManager.Servers(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errorChan := make(chan error, 2)
	go func() {
		logger.ServerInfo("Starting HTTP server on %s", plain.Addr)
		if err := plain.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errorChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	if secure != nil {
		go func() {
			logger.ServerInfo("Starting HTTPS server on %s", secure.Addr)
			if err := secure.ListenAndServeTLS("", ""); !errors.Is(err, http.ErrServerClosed) {
				errorChan <- fmt.Errorf("HTTPS server error: %w", err)
			}
		}()
	}

	select {
	case err := <-errorChan:
		return err
	case <-ctx.Done():
	}

	logger.ServerInfo("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	plain.Shutdown(shutdownCtx)
	if secure != nil {
		secure.Shutdown(shutdownCtx)
	}
	return nil
}
