// Package main is the kura CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/cli"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/importer"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/lifecycle"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/server"
	"github.com/hyperjump/kura/internal/watcher"
	kerr "github.com/hyperjump/kura/pkg/errors"
	"github.com/hyperjump/kura/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kura/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory so that commands run from a project
// directory use that project's config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	args := os.Args[1:]
	globalConfig := ""
	if len(args) >= 2 && (args[0] == "--config" || args[0] == "-config") {
		globalConfig, args = args[1], args[2:]
	}
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}
	command, rest := args[0], args[1:]
	if globalConfig != "" {
		rest = append([]string{"--config", globalConfig}, rest...)
	}
	switch command {
	case "server":
		runServer(rest)
	case "upsert":
		runUpsert(rest)
	case "delete":
		runDelete(rest)
	case "search":
		runSearch(rest)
	case "list":
		runList(rest)
	case "import":
		runImport(rest)
	case "rebuild":
		runRebuild(rest)
	case "watch":
		runWatch(rest)
	case "status":
		runStatus(rest)
	case "version", "--version", "-v":
		fmt.Printf("kura version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// fatal prints msg and err (with its code, when it has one) and exits.
func fatal(msg string, err error) {
	if code := kerr.CodeOf(err); code != "" {
		fmt.Fprintf(os.Stderr, "%s: %v [%s]\n", msg, err, code)
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	}
	os.Exit(1)
}

// setup loads config, builds the logger and opens the store.
func setup(ctx context.Context, configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatal("Failed to load config", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatal("Failed to create logger", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		fatal("Failed to initialize", err)
	}
	return cfg, logger, components
}

func closeAll(logger *zap.Logger, components *Components) {
	if err := components.Close(); err != nil {
		logger.Error("close failed", zap.Error(err))
	}
	_ = logger.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()
	cfg, logger, components := setup(ctx, *configPath, *debug)
	defer closeAll(logger, components)

	if cfg.Feed.Directory != "" {
		w := newFeedWatcher(cfg, components.Listener, logger)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start feed watcher", zap.Error(err))
		}
		defer w.Stop()
		go syncFeed(ctx, w, logger)
	}

	srv := server.NewServer(components.Store, components.Listener, cfg, logger,
		server.WithMetricsHandler(promhttp.HandlerFor(components.Registry, promhttp.HandlerOpts{})),
		server.WithVersion(version))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func newFeedWatcher(cfg *config.Config, listener *lifecycle.Listener, logger *zap.Logger) *watcher.Watcher {
	return watcher.NewWatcher(cfg.Feed.Directory, listener,
		watcher.WithLogger(logger),
		watcher.WithDebounce(time.Duration(cfg.Feed.DebounceMS)*time.Millisecond))
}

func syncFeed(ctx context.Context, w *watcher.Watcher, logger *zap.Logger) {
	n, err := w.SyncExisting(ctx)
	if err != nil {
		logger.Warn("feed sync had failures", zap.Int("saved", n), zap.Error(err))
		return
	}
	logger.Info("feed synced", zap.String("dir", w.Dir()), zap.Int("saved", n))
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dir := fs.String("dir", "", "feed directory (default: feed.directory from config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()
	cfg, logger, components := setup(ctx, *configPath, *debug)
	defer closeAll(logger, components)

	if *dir != "" {
		cfg.Feed.Directory = *dir
	}
	if cfg.Feed.Directory == "" {
		fmt.Fprintln(os.Stderr, "No feed directory: set feed.directory in config or pass --dir")
		return
	}
	w := newFeedWatcher(cfg, components.Listener, logger)
	if err := w.Start(ctx); err != nil {
		logger.Error("Failed to start feed watcher", zap.Error(err))
		return
	}
	defer w.Stop()
	syncFeed(ctx, w, logger)
	logger.Info("Watching feed directory", zap.String("dir", w.Dir()))
	<-ctx.Done()
	logger.Info("Shutting down...")
}

// entityPayload returns the JSON field object given inline or read from file.
func entityPayload(inline, file string) ([]byte, error) {
	switch {
	case inline != "" && file != "":
		return nil, kerr.New(kerr.CodeServerRequestInvalidInput, "use either --json or --file, not both")
	case inline != "":
		return []byte(inline), nil
	case file == "-":
		return io.ReadAll(os.Stdin)
	case file != "":
		return os.ReadFile(file)
	default:
		return nil, kerr.New(kerr.CodeServerRequestInvalidInput, "--json or --file is required")
	}
}

func runUpsert(args []string) {
	fs := flag.NewFlagSet("upsert", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	typ := fs.String("type", "", "entity type: product, faq, order or generic")
	id := fs.String("id", "", "entity id")
	file := fs.String("file", "", "JSON file with the entity fields (- for stdin)")
	inline := fs.String("json", "", "entity fields as a JSON object")
	_ = fs.Parse(args)

	t, err := models.ParseEntityType(*typ)
	if err != nil {
		fatal("Invalid --type", err)
	}
	payload, err := entityPayload(*inline, *file)
	if err != nil {
		fatal("Invalid entity", err)
	}
	e, err := models.DecodeEntity(t, *id, payload)
	if err != nil {
		fatal("Invalid entity", err)
	}
	ident := e.Identity()

	ctx := context.Background()
	_, logger, components := setup(ctx, *configPath, false)
	defer closeAll(logger, components)

	_, getErr := components.Store.Get(ident.Type, ident.ID)
	created := kerr.IsNotFound(getErr)
	if err := components.Listener.EntitySaved(ctx, e, created); err != nil {
		closeAll(logger, components)
		fatal("Upsert failed", err)
	}
	if created {
		fmt.Printf("Created: %s\n", ident)
	} else {
		fmt.Printf("Updated: %s\n", ident)
	}
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	typ := fs.String("type", "", "entity type")
	id := fs.String("id", "", "entity id")
	_ = fs.Parse(args)

	t, err := models.ParseEntityType(*typ)
	if err != nil {
		fatal("Invalid --type", err)
	}
	if *id == "" {
		fmt.Println("Usage: kura delete --type <type> --id <id>")
		os.Exit(1)
	}

	ctx := context.Background()
	_, logger, components := setup(ctx, *configPath, false)
	defer closeAll(logger, components)

	if err := components.Listener.EntityDeleted(ctx, t, *id); err != nil {
		closeAll(logger, components)
		fatal("Deletion failed", err)
	}
	fmt.Printf("Deleted: %s:%s\n", t, *id)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags that appear after the query to the front
// so that flag.Parse sees them; the flag package stops at the first positional.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the store directly)")
	k := fs.Int("k", 0, "number of results (default from config)")
	mode := fs.String("mode", string(models.SearchSemantic), "semantic or keyword")
	fuzzy := fs.Bool("fuzzy", true, "typo tolerance for keyword search (direct mode)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kura search [flags] <query>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(searchArgsReorder(args))

	query := &models.SearchQuery{
		Query: buildSearchQuery(fs.Args()),
		K:     *k,
		Mode:  models.SearchMode(*mode),
	}
	if query.Query == "" {
		fs.Usage()
		os.Exit(1)
	}
	format := cli.ParseOutputFormat(*outputFormat)

	if *serverURL != "" {
		response, err := searchViaHTTP(*serverURL, query)
		if err != nil {
			fatal("Search failed", err)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fatal("Output failed", err)
		}
		return
	}

	ctx := context.Background()
	cfg, logger, components := setup(ctx, *configPath, false)
	defer closeAll(logger, components)

	if err := query.Validate(cfg.Search.DefaultK, cfg.Search.MaxK); err != nil {
		closeAll(logger, components)
		fatal("Invalid query", err)
	}
	start := time.Now()
	var (
		hits []models.SearchHit
		err  error
	)
	if query.Mode == models.SearchKeyword {
		hits, err = components.Store.KeywordSearch(ctx, query.Query, query.K, &keyword.SearchOptions{FuzzyEnabled: *fuzzy})
	} else {
		hits, err = components.Store.Query(ctx, query.Query, query.K)
	}
	if err != nil {
		closeAll(logger, components)
		fatal("Search failed", err)
	}
	response := &models.SearchResponse{
		Hits:      hits,
		Total:     len(hits),
		Mode:      query.Mode,
		Query:     query.Query,
		QueryTime: time.Since(start).Milliseconds(),
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatal("Output failed", err)
	}
}

// apiError is the error body returned by the HTTP API.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var e apiError
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		if e.Code != "" {
			return kerr.New(kerr.Code(e.Code), e.Error, kerr.Field("status", resp.StatusCode))
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func statusViaHTTP(serverURL string) (map[string]interface{}, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	var s map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return s, nil
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	typ := fs.String("type", "", "only list this entity type")
	offset := fs.Int("offset", 0, "records to skip")
	limit := fs.Int("limit", 0, "maximum records (0 = all)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	var t models.EntityType
	if *typ != "" {
		var err error
		if t, err = models.ParseEntityType(*typ); err != nil {
			fatal("Invalid --type", err)
		}
	}

	ctx := context.Background()
	_, logger, components := setup(ctx, *configPath, false)
	defer closeAll(logger, components)

	records, err := components.Store.List(ctx, t, *offset, *limit)
	if err != nil {
		closeAll(logger, components)
		fatal("List failed", err)
	}
	if err := cli.WriteRecords(os.Stdout, records, cli.ParseOutputFormat(*outputFormat)); err != nil {
		fatal("Output failed", err)
	}
}

// importSummary reports what an import did.
type importSummary struct {
	Read    int
	Saved   int
	Failed  int
	Removed int
}

// applyImport saves the imported entities. With prune, rows absent from the
// workbook are removed as well.
func applyImport(ctx context.Context, listener *lifecycle.Listener, entities []models.Entity, exists func(models.Identity) bool, prune bool) (importSummary, error) {
	sum := importSummary{Read: len(entities)}
	if prune {
		res, err := listener.Reindex(ctx, entities)
		sum.Saved = res.Processed
		sum.Failed = res.Failed
		sum.Removed = res.Removed
		return sum, err
	}
	var errs []error
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := listener.EntitySaved(ctx, e, !exists(e.Identity())); err != nil {
			sum.Failed++
			errs = append(errs, err)
			continue
		}
		sum.Saved++
	}
	return sum, kerr.Join(errs...)
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	prune := fs.Bool("prune", false, "delete stored entities that are not in the workbook")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Println("Usage: kura import [flags] <workbook.xlsx>")
		os.Exit(1)
	}
	res, err := importer.ReadFile(fs.Arg(0))
	if err != nil {
		fatal("Import failed", err)
	}
	for _, rowErr := range res.Errors {
		fields := kerr.FieldsOf(rowErr)
		fmt.Fprintf(os.Stderr, "skipped %v row %v: %v\n", fields["sheet"], fields["row"], rowErr)
	}
	if *prune && len(res.Errors) > 0 {
		fmt.Fprintln(os.Stderr, "Not pruning: the workbook has rows that could not be read")
		*prune = false
	}

	ctx, stop := signalContext()
	defer stop()
	_, logger, components := setup(ctx, *configPath, false)
	defer closeAll(logger, components)

	exists := func(ident models.Identity) bool {
		_, err := components.Store.Get(ident.Type, ident.ID)
		return err == nil
	}
	sum, err := applyImport(ctx, components.Listener, res.Entities, exists, *prune)
	fmt.Printf("Imported %d of %d entities from %s (%d failed, %d removed, %d rows skipped)\n",
		sum.Saved, sum.Read, strings.Join(res.Sheets, ", "), sum.Failed, sum.Removed, len(res.Errors))
	if err != nil {
		closeAll(logger, components)
		fatal("Import had failures", err)
	}
}

func runRebuild(args []string) {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()
	_, logger, components := setup(ctx, *configPath, false)
	defer closeAll(logger, components)

	res, err := components.Store.Rebuild(ctx)
	if err != nil {
		closeAll(logger, components)
		fatal("Rebuild failed", err)
	}
	fmt.Printf("Rebuilt index: %d rows, %d dropped\n", res.Rows, len(res.Dropped))
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the store directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	var status map[string]interface{}
	if *serverURL != "" {
		s, err := statusViaHTTP(*serverURL)
		if err != nil {
			fatal("Status failed", err)
		}
		status = s
	} else {
		ctx := context.Background()
		_, logger, components := setup(ctx, *configPath, false)
		defer closeAll(logger, components)
		stats := components.Store.Stats()
		status = map[string]interface{}{
			"rows":            stats.Rows,
			"index_rows":      stats.IndexRows,
			"dimensions":      stats.Dimensions,
			"index_type":      stats.IndexType,
			"rebuild_policy":  stats.RebuildPolicy,
			"by_type":         stats.ByType,
			"vector_files":    stats.VectorFiles,
			"disk_bytes":      stats.DiskBytes,
			"keyword_enabled": stats.Keyword,
			"data_dir":        stats.DataDir,
			"version":         version,
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, cli.ParseOutputFormat(*outputFormat)); err != nil {
		fatal("Output failed", err)
	}
}

func printUsage() {
	fmt.Println(`kura - entity embedding store

Usage:
  kura [--config path] <command> [flags]

Commands:
  kura server                                  Start the HTTP server (and the feed watcher when configured)
  kura upsert --type T --id ID --file F|--json J   Create or update an entity
  kura delete --type T --id ID                 Delete an entity
  kura search [flags] <query>                  Search stored entities
  kura list [--type T]                         List stored records
  kura import [--prune] <workbook.xlsx>        Import products, faqs and orders sheets
  kura rebuild                                 Rebuild the index from the vector files
  kura watch [--dir D]                         Watch a feed directory of <type>_<id>.json files
  kura status                                  Show store status
  kura version                                 Show version
  kura help                                    Show this help

Search Flags:
  --k int            Number of results (default from config)
  --mode string      semantic or keyword (default: semantic)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open the store directly.
  --output string    text or json

Examples:
  kura server
  kura upsert --type faq --id 1 --json '{"question":"How do I return an item?","answer":"Within 30 days."}'
  kura search --k 3 return policy
  kura search --mode keyword --output json shipping
  kura import catalog.xlsx
  kura status --server ""`)
}
