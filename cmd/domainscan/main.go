package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/domainscan/internal/backoff"
	"github.com/osvaldoandrade/domainscan/internal/tracker"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	_ "github.com/osvaldoandrade/domainscan/pkg/analysisapi/legacy"
	_ "github.com/osvaldoandrade/domainscan/pkg/analysisapi/v1"
	"github.com/osvaldoandrade/domainscan/pkg/config"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

type profile struct {
	APIBaseURL         string `yaml:"apiBaseUrl"`
	APIVersion         string `yaml:"apiVersion"`
	APIKey             string `yaml:"apiKey"`
	ObserveMode        string `yaml:"observeMode"`
	PollIntervalMillis int    `yaml:"pollIntervalMillis"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

// settings is the resolved connection setup for one invocation.
type settings struct {
	cfg     *config.Config
	apiKey  string
	verbose bool
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func main() {
	var (
		profileName  string
		baseURL      string
		apiVersion   string
		apiKey       string
		mode         string
		pollInterval time.Duration
		verbose      bool
		noColor      bool
	)
	s := &settings{}
	ui := newUI()

	root := &cobra.Command{
		Use:   "domainscan",
		Short: "domainscan CLI",
		Long:  "domainscan CLI for submitting domains to the analysis service and reading its reports.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&profileName, "profile", getenv("DOMAINSCAN_PROFILE", ""), "Config profile")
	root.PersistentFlags().StringVar(&baseURL, "api-base-url", "", "Analysis API base URL")
	root.PersistentFlags().StringVar(&apiVersion, "api-version", "", "Analysis API contract: "+strings.Join(analysisapi.Versions(), ", "))
	root.PersistentFlags().StringVar(&apiKey, "api-key", "", "Bearer token for the analysis API")
	root.PersistentFlags().StringVar(&mode, "mode", "", "Observation mode: poll or stream")
	root.PersistentFlags().DurationVar(&pollInterval, "poll-interval", 0, "Delay between status polls")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests and normalisation fallbacks")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colours")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
			color.NoColor = true
		}
		cfg, err := config.LoadConfigOptional(os.Getenv("DOMAINSCAN_CONFIG_PATH"))
		if err != nil {
			return err
		}
		file, _, err := loadConfig()
		if err != nil {
			return err
		}
		prof := file.Profiles[resolveProfileName(profileName, file)]

		// Precedence: flag, environment, profile, defaults.
		flags := cmd.Flags()
		pick := func(flag, env string, profVal string, dst *string, flagVal string) {
			switch {
			case flags.Changed(flag):
				*dst = flagVal
			case strings.TrimSpace(os.Getenv(env)) != "":
			case profVal != "":
				*dst = profVal
			}
		}
		pick("api-base-url", "DOMAINSCAN_API_BASE_URL", prof.APIBaseURL, &cfg.APIBaseURL, baseURL)
		pick("api-version", "DOMAINSCAN_API_VERSION", prof.APIVersion, &cfg.APIVersion, apiVersion)
		pick("mode", "DOMAINSCAN_OBSERVE_MODE", prof.ObserveMode, &cfg.ObserveMode, mode)
		cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

		switch {
		case flags.Changed("poll-interval"):
			cfg.PollIntervalMillis = int(pollInterval / time.Millisecond)
		case os.Getenv("DOMAINSCAN_POLL_INTERVAL_MS") != "":
		case prof.PollIntervalMillis > 0:
			cfg.PollIntervalMillis = prof.PollIntervalMillis
		}

		s.apiKey = firstNonEmpty(apiKey, os.Getenv("DOMAINSCAN_API_KEY"), prof.APIKey)
		s.cfg = cfg
		s.verbose = verbose
		return nil
	}

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(profileCmd(&profileName, s, ui))
	root.AddCommand(scanCmd(s, ui))
	root.AddCommand(taskCmd(s, ui))
	root.AddCommand(tasksCmd(s, ui))
	root.AddCommand(reportsCmd(s, ui))
	root.AddCommand(healthCmd(s, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func (s *settings) logger() *slog.Logger {
	level := slog.LevelWarn
	if s.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With("service", "domainscan-cli")
}

func (s *settings) api() (analysisapi.API, error) {
	httpClient := &http.Client{}
	if s.apiKey != "" {
		httpClient.Transport = &bearerTransport{token: s.apiKey, next: http.DefaultTransport}
	}
	return analysisapi.New(s.cfg.APIVersion, analysisapi.Options{
		BaseURL:    s.cfg.APIBaseURL,
		HTTPClient: httpClient,
		Timeout:    s.cfg.RequestTimeout(),
		Logger:     s.logger(),
	})
}

func (s *settings) tracker(api analysisapi.API) *tracker.Tracker {
	return tracker.New(api, tracker.Options{
		Mode:                s.cfg.ObserveMode,
		PollInterval:        s.cfg.PollInterval(),
		MaxTransportRetries: s.cfg.MaxTransportRetries,
		ResultFetchAttempts: s.cfg.ResultFetchAttempts,
		Backoff:             backoff.Policy{Name: s.cfg.BackoffPolicy, Base: s.cfg.BackoffBase(), Max: s.cfg.BackoffMax()},
		Logger:              s.logger(),
	})
}

type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(req)
}

func initCmd(profileName *string, ui *ui) *cobra.Command {
	var (
		baseURL    string
		apiVersion string
		apiKey     string
		mode       string
		noPrompt   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]

			baseURL = firstNonEmpty(baseURL, prof.APIBaseURL, "http://localhost:8000/api/v1")
			apiVersion = firstNonEmpty(apiVersion, prof.APIVersion, "v1")
			mode = firstNonEmpty(mode, prof.ObserveMode, tracker.ModePoll)
			apiKey = firstNonEmpty(apiKey, prof.APIKey)

			if !noPrompt {
				reader := bufio.NewReader(os.Stdin)
				baseURL = prompt(reader, "Analysis API base URL", baseURL)
				apiVersion = prompt(reader, "API version ("+strings.Join(analysisapi.Versions(), ", ")+")", apiVersion)
				mode = prompt(reader, "Observation mode (poll, stream)", mode)
				if apiKey == "" {
					key, err := promptSecret("API key (optional)")
					if err != nil {
						return err
					}
					apiKey = key
				}
			}

			prof.APIBaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
			prof.APIVersion = strings.TrimSpace(apiVersion)
			prof.ObserveMode = strings.TrimSpace(mode)
			prof.APIKey = strings.TrimSpace(apiKey)

			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), active, cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Analysis API base URL")
	cmd.Flags().StringVar(&apiVersion, "version", "", "Analysis API contract")
	cmd.Flags().StringVar(&apiKey, "key", "", "API key")
	cmd.Flags().StringVar(&mode, "observe", "", "Observation mode")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func profileCmd(profileName *string, s *settings, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and switch profiles",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings (key masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			fmt.Printf("%s Profile: %s\n", ui.title("domainscan"), active)
			fmt.Printf("%s API URL:  %s\n", ui.info("•"), s.cfg.APIBaseURL)
			fmt.Printf("%s Version:  %s\n", ui.info("•"), s.cfg.APIVersion)
			fmt.Printf("%s Mode:     %s\n", ui.info("•"), s.cfg.ObserveMode)
			fmt.Printf("%s Interval: %s\n", ui.info("•"), s.cfg.PollInterval())
			fmt.Printf("%s API Key:  %s\n", ui.info("•"), maskToken(s.apiKey))
			if names := profileNames(cfg); len(names) > 1 {
				fmt.Printf("%s Others:   %s\n", ui.dim("•"), strings.Join(names, ", "))
			}
			return nil
		},
	}
	use := &cobra.Command{
		Use:   "use <name>",
		Short: "Make a profile the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			name := strings.TrimSpace(args[0])
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("unknown profile %q (run `domainscan init --profile %s`)", name, name)
			}
			cfg.CurrentProfile = name
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Using profile '%s'\n", ui.ok("[OK]"), name)
			return nil
		},
	}
	cmd.AddCommand(show, use)
	return cmd
}

func helpTemplate(ui *ui) string {
	title := ui.title("domainscan")
	return fmt.Sprintf(`%s: domain analysis from the terminal

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  domainscan init
  domainscan scan example.com expired-domain.org
  domainscan scan --file domains.txt --long-live --sort snapshots --save weekly
  domainscan task watch 1f0c2
  domainscan reports list

`, title, configPath())
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("DOMAINSCAN_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".domainscan", "config.yaml")
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func profileNames(cfg cliConfig) []string {
	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && strings.TrimSpace(line) == "" {
			return "", nil
		}
		return strings.TrimSpace(line), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
