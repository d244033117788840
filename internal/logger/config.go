package logger

// LoggingConfig is the logging section of the settings file. Keys match the
// viper paths (logging.defaultlevel, logging.fileoutput.path, ...).
type LoggingConfig struct {
	DefaultLevel string         `yaml:"defaultlevel" mapstructure:"defaultlevel"`
	Timezone     string         `yaml:"timezone" mapstructure:"timezone"` // Local, UTC or an IANA name
	Console      *ConsoleOutput `yaml:"console" mapstructure:"console"`
	FileOutput   *FileOutput    `yaml:"fileoutput" mapstructure:"fileoutput"`

	// ModuleLevels overrides DefaultLevel per module, e.g. shmbuf: debug.
	ModuleLevels map[string]string `yaml:"modulelevels,omitempty" mapstructure:"modulelevels"`
	// ModuleOutputs sends a module to its own JSON file.
	ModuleOutputs map[string]ModuleOutput `yaml:"modules,omitempty" mapstructure:"modules"`
}

// ConsoleOutput writes text lines to stdout.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput writes JSON lines to Path.
type FileOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// ModuleOutput routes one module to a dedicated file, optionally echoed to
// the console.
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	FilePath    string `yaml:"filepath" mapstructure:"filepath"`
	Level       string `yaml:"level" mapstructure:"level"`
	ConsoleAlso bool   `yaml:"consolealso" mapstructure:"consolealso"`
}

const (
	DefaultLogLevel = "info"
	DefaultLogPath  = "logs/tricam.log"
)

// applyConfigDefaults fills the sections a config file may omit. Console
// logging is on unless explicitly disabled.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}
	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{Path: DefaultLogPath, Level: cfg.DefaultLevel}
	}
	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}
}
