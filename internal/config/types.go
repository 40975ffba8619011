package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use values like "60s"
// or "5m".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the top-level configuration parsed from oxidize YAML.
type Config struct {
	Oracle    OracleConfig    `yaml:"oracle"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Loops     LoopsConfig     `yaml:"loops"`
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
}

// OracleConfig configures the transformation oracle client.
type OracleConfig struct {
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	Timeout     Duration `yaml:"timeout"`
	// APIKeyEnv names the environment variable holding the API key;
	// keys never live in the config file itself.
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

// WorkspaceConfig names the working directory layout.
type WorkspaceConfig struct {
	OutputDir    string `yaml:"output_dir"`
	DebugDir     string `yaml:"debug_dir"`
	PrimaryFile  string `yaml:"primary_file"`
	ManifestFile string `yaml:"manifest_file"`
}

// ToolchainConfig names the external toolchain commands.
type ToolchainConfig struct {
	CheckCommand string   `yaml:"check_command"`
	BuildCommand string   `yaml:"build_command"`
	LintCommand  string   `yaml:"lint_command"`
	Timeout      Duration `yaml:"timeout"`
}

// LoopsConfig bounds the three independent fix loops.
type LoopsConfig struct {
	VerifyFixAttempts int `yaml:"verify_fix_attempts"`
	BuildFixAttempts  int `yaml:"build_fix_attempts"`
	ProbeFixAttempts  int `yaml:"probe_fix_attempts"`
}

// ServerConfig configures booting and probing the migrated service.
type ServerConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	ServeCommand      string   `yaml:"serve_command"`
	StartupTimeout    Duration `yaml:"startup_timeout"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	PollInterval      Duration `yaml:"poll_interval"`
	GraceWindow       Duration `yaml:"grace_window"`
	TestScript        string   `yaml:"test_script"`
	GetMarkers        []string `yaml:"get_markers"`
	PostMarkers       []string `yaml:"post_markers"`
	FailureSignatures []string `yaml:"failure_signatures"`
}

// DBConfig configures the run-history database.
type DBConfig struct {
	// Path to the SQLite file; empty means ~/.oxidize/oxidize.db.
	Path string `yaml:"path"`
	// Disabled turns off run-history recording entirely.
	Disabled bool `yaml:"disabled"`
}
