package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "xrev"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage xrev configuration.

Running bare 'xrev config' is the same as 'xrev config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# xrev configuration
# See: xrev config show (for effective values and sources)

# State/data directory (default: ~/.config/xrev)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/xrev/xrev.db)
# db_path: {{ .DBPath }}

# Review loop
review:
  # Average score that counts as converged, in [0,10] (default: 8.0)
  target_score: {{ .TargetScore }}

  # Maximum review iterations per session (default: 3)
  max_iterations: {{ .MaxIterations }}

  # Per-provider review timeout in seconds (default: 120)
  timeout_seconds: {{ .ReviewTimeout }}

  # Pause between iterations in seconds (default: 3)
  pause_seconds: {{ .PauseSeconds }}

# Repair
repair:
  # Per-repair timeout in seconds (default: 120)
  timeout_seconds: {{ .RepairTimeout }}

# Consensus matching
consensus:
  # Extra keywords for cross-provider issue matching, merged with the
  # built-in vocabulary.
  # keywords: ["race", "leak"]

# Providers
providers:
  gemini:
    # Gemini CLI binary (default: "gemini")
    bin: "{{ .GeminiBin }}"
  codex:
    # Codex CLI binary (default: "codex")
    bin: "{{ .CodexBin }}"

# Anthropic API (repair provider)
anthropic:
  # API key (default: $ANTHROPIC_API_KEY)
  # api_key: ""

  # Model used for review and repair requests
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	TargetScore    float64
	MaxIterations  int
	ReviewTimeout  int
	PauseSeconds   int
	RepairTimeout  int
	GeminiBin      string
	CodexBin       string
	AnthropicModel string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		TargetScore:    viper.GetFloat64("review.target_score"),
		MaxIterations:  viper.GetInt("review.max_iterations"),
		ReviewTimeout:  viper.GetInt("review.timeout_seconds"),
		PauseSeconds:   viper.GetInt("review.pause_seconds"),
		RepairTimeout:  viper.GetInt("repair.timeout_seconds"),
		GeminiBin:      viper.GetString("providers.gemini.bin"),
		CodexBin:       viper.GetString("providers.codex.bin"),
		AnthropicModel: viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "XREV_STATE_DIR"},
	{Key: "db_path", EnvVar: "XREV_DB_PATH"},
	{Key: "review.target_score", EnvVar: "XREV_REVIEW_TARGET_SCORE"},
	{Key: "review.max_iterations", EnvVar: "XREV_REVIEW_MAX_ITERATIONS"},
	{Key: "review.timeout_seconds", EnvVar: "XREV_REVIEW_TIMEOUT_SECONDS"},
	{Key: "review.pause_seconds", EnvVar: "XREV_REVIEW_PAUSE_SECONDS"},
	{Key: "repair.timeout_seconds", EnvVar: "XREV_REPAIR_TIMEOUT_SECONDS"},
	{Key: "providers.gemini.bin", EnvVar: "XREV_PROVIDERS_GEMINI_BIN"},
	{Key: "providers.codex.bin", EnvVar: "XREV_PROVIDERS_CODEX_BIN"},
	{Key: "anthropic.model", EnvVar: "XREV_ANTHROPIC_MODEL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'xrev config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
