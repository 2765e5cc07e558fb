package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/domain-redirector/internal/fetcher"
	"github.com/bnema/domain-redirector/internal/log"
	"github.com/bnema/domain-redirector/internal/models"
	"github.com/bnema/domain-redirector/internal/navigation"
	"github.com/bnema/domain-redirector/internal/parser"
	"github.com/bnema/domain-redirector/internal/rewrite"
	"github.com/bnema/domain-redirector/internal/server"
	"github.com/bnema/domain-redirector/internal/settings"
	"github.com/bnema/domain-redirector/internal/store"
)

const defaultConfigPath = "./configs/domain_redirector.toml"

var (
	cfgFile string
	cfg     models.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "domain-redirector",
	Short: "Redirect URLs from one domain to another",
	Long: `A tool that rewrites URLs according to user-defined domain replacement
rules, with whitelist and blacklist exemptions, a managed rule store and an
HTTP API for editing rules.`,
	SilenceUsage: true,
}

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Evaluate a URL against the stored rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var addCmd = &cobra.Command{
	Use:   "add <domain> <replacement>",
	Short: "Add or update a domain replacement",
	Args:  cobra.ExactArgs(2),
	RunE:  runAdd,
}

var removeCmd = &cobra.Command{
	Use:   "remove <domain>",
	Short: "Remove a domain replacement",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List domain replacements and exemptions",
	RunE:  runList,
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace all domain replacements with a JSON file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export domain replacements as JSON",
	RunE:  runExport,
}

var watchCmd = &cobra.Command{
	Use:   "watch <url>",
	Short: "Follow a browsing session, reading navigated URLs from stdin",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the rules HTTP API",
	RunE:  runServe,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runInit,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: "+defaultConfigPath+")")

	importCmd.Flags().String("url", "", "download the file from a URL instead")
	exportCmd.Flags().StringP("output", "o", "", "write to a file (use a directory to get "+settings.ExportFilename+")")
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")

	rootCmd.AddCommand(
		checkCmd, addCmd, removeCmd, listCmd,
		newListCmd("whitelist", "Manage domains exempt from rewriting"),
		newListCmd("blacklist", "Manage domains rewritten even when whitelisted"),
		importCmd, exportCmd, watchCmd, serveCmd, initCmd,
	)
}

func initConfig() {
	c, err := loadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg = c
	log.SetLogConf(cfg.Log)
}

func loadConfig(path string) (models.Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("domain_redirector")
		v.SetConfigType("toml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("store.path", "./data/rules.json")
	v.SetDefault("store.watch", false)
	v.SetDefault("rewrite.mode", string(rewrite.ModeSubstring))
	v.SetDefault("server.addr", "127.0.0.1:8089")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.retries", 3)

	v.SetEnvPrefix("DOMAIN_REDIRECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c models.Config
	// A missing file, searched for or named with --config, means defaults.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return c, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func newRules() *store.Rules {
	return store.NewRules(store.NewFile(afero.NewOsFs(), cfg.Store.Path))
}

func newEngine() *rewrite.Engine {
	return rewrite.New(rewrite.Mode(cfg.Rewrite.Mode))
}

func newSettings() *settings.Service {
	return settings.New(newRules(), nil)
}

func runCheck(cmd *cobra.Command, args []string) error {
	in := models.InputFromURL(args[0])
	dest, ok := newEngine().Evaluate(in, newRules().Load())
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "no redirect for %s\n", in.CurrentURL)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), dest)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	if err := newSettings().AddReplacement(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], args[1])
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	if err := newSettings().RemoveReplacement(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	svc := newSettings()
	out := cmd.OutOrStdout()

	rows := svc.Rows()
	fmt.Fprintf(out, "Domain replacements (%d):\n", len(rows))
	for _, row := range rows {
		fmt.Fprintf(out, "  %s -> %s\n", row.Domain, row.Replacement)
	}

	rs := svc.RuleSet()
	printList(out, "Whitelist", rs.Whitelist)
	printList(out, "Blacklist", rs.Blacklist)
	return nil
}

func printList(w io.Writer, title string, domains []string) {
	if len(domains) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, d := range domains {
		fmt.Fprintf(w, "  %s\n", d)
	}
}

func newListCmd(name, short string) *cobra.Command {
	parent := &cobra.Command{Use: name, Short: short}

	add := &cobra.Command{
		Use:   "add <domain>",
		Short: "Add a domain to the " + name,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := newSettings()
			fn := svc.AddWhitelist
			if name == "blacklist" {
				fn = svc.AddBlacklist
			}
			return fn(args[0])
		},
	}
	remove := &cobra.Command{
		Use:   "remove <domain>",
		Short: "Remove a domain from the " + name,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := newSettings()
			fn := svc.RemoveWhitelist
			if name == "blacklist" {
				fn = svc.RemoveBlacklist
			}
			return fn(args[0])
		},
	}

	parent.AddCommand(add, remove)
	return parent
}

func runImport(cmd *cobra.Command, args []string) error {
	remote, _ := cmd.Flags().GetString("url")
	svc := newSettings()

	var (
		stats parser.Stats
		err   error
	)
	switch {
	case remote != "":
		stats, err = svc.ImportURL(cmd.Context(), fetcher.New(cfg.HTTP), remote)
	case len(args) == 1:
		var f *os.File
		f, err = os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		stats, err = svc.Import(f)
	default:
		stats, err = svc.Import(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to import domain replacements, please ensure the file is valid JSON: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %d replacements (skipped: %d)\n", stats.Imported, stats.Skipped)
	for reason, count := range stats.SkipReasons {
		fmt.Fprintf(out, "  - %s: %d\n", reason, count)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	svc := newSettings()

	if output == "" {
		return svc.Export(cmd.OutOrStdout())
	}

	if info, err := os.Stat(output); err == nil && info.IsDir() {
		output = filepath.Join(output, settings.ExportFilename)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := svc.Export(f); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", output)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rules := newRules()
	nav := navigation.NewMemoryNavigator(args[0])
	trig := navigation.NewTrigger(rules, newEngine(), nav)

	events := make(chan navigation.Event)
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Store.Watch {
		g.Go(func() error { return navigation.WatchStore(ctx, cfg.Store.Path, events) })
	}
	g.Go(func() error {
		return readNavigations(ctx, cmd.InOrStdin(), events)
	})
	g.Go(func() error {
		err := trig.Run(ctx, events)
		fmt.Fprintln(cmd.OutOrStdout(), nav.Location())
		return err
	})

	return ignoreStop(g.Wait())
}

// readNavigations turns each non-empty input line into a navigation event and
// returns io.EOF when the input ends so the session stops
func readNavigations(ctx context.Context, r io.Reader, events chan<- navigation.Event) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case events <- navigation.Event{Kind: navigation.EventPushState, URL: line}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Requests read the store fresh.
	return server.New(newSettings(), newEngine()).Run(ctx, addr)
}

// ignoreStop treats end of input and cancellation as a clean exit
func ignoreStop(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := defaultConfigPath
	if cfgFile != "" {
		configPath = cfgFile
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", configPath)
	return nil
}

const defaultConfig = `# Domain Redirector Configuration

# Rule store
[store]
path = "./data/rules.json"
# Re-evaluate when another process edits the store
watch = false

# Destination building: "substring" replaces the first occurrence of the
# hostname anywhere in the URL, "authority" swaps only the URL host
[rewrite]
mode = "substring"

# HTTP API
[server]
addr = "127.0.0.1:8089"

# Logging
[log]
level = "info"
# file = "./logs/domain-redirector.log"

# HTTP client settings for remote imports
[http]
timeout = "30s"
retries = 3
`
