package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration.
type Config struct {
	OutputDir   string
	DataDir     string
	CacheDir    string
	SidecarDir  string
	DebugDir    string
	LogDir      string
	Port        string
	MetricsPort string

	ThumbnailWidth int
	SyncWorkers    int
	FFprobePath    string

	LogStaticFiles  bool
	LogHealthChecks bool
	MetricsEnabled  bool

	// Derived paths
	DatabasePath string
	ThumbnailDir string

	ThumbnailsEnabled bool
}

// LoadConfig reads config.json (when present) plus SMARTGALLERY_*
// environment overrides, resolves paths, and validates directories.
// cfgFile and flag overrides come from the CLI entry point; empty values
// fall back to the config file and defaults.
func LoadConfig(cfgFile, outputDir, port string) (*Config, error) {
	printBanner()
	logSystemInfo()

	v := viper.New()
	v.SetDefault("output_dir", "./output")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("cache_dir", "./cache")
	v.SetDefault("sidecar_dir", "")
	v.SetDefault("debug_dir", "")
	v.SetDefault("log_dir", "")
	v.SetDefault("port", "8008")
	v.SetDefault("metrics_port", "9090")
	v.SetDefault("thumbnail_width", 300)
	v.SetDefault("sync_workers", 0)
	v.SetDefault("ffprobe_path", "")
	v.SetDefault("log_static_files", false)
	v.SetDefault("log_health_checks", true)
	v.SetDefault("metrics_enabled", true)

	v.SetEnvPrefix("SMARTGALLERY")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	// Flags win over file and environment.
	if outputDir != "" {
		v.Set("output_dir", outputDir)
	}
	if port != "" {
		v.Set("port", port)
	}

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	if used := v.ConfigFileUsed(); used != "" {
		logging.Info("  Config file:        %s", used)
	}
	logging.Info("  output_dir:         %s", v.GetString("output_dir"))
	logging.Info("  data_dir:           %s", v.GetString("data_dir"))
	logging.Info("  cache_dir:          %s", v.GetString("cache_dir"))
	logging.Info("  port:               %s", v.GetString("port"))
	logging.Info("  metrics_port:       %s", v.GetString("metrics_port"))
	logging.Info("  metrics_enabled:    %v", v.GetBool("metrics_enabled"))
	logging.Info("  thumbnail_width:    %d", v.GetInt("thumbnail_width"))
	logging.Info("  sync_workers:       %d (0 = auto)", v.GetInt("sync_workers"))
	logging.Info("  log_level:          %s", logging.GetLevel())

	config := &Config{
		OutputDir:       v.GetString("output_dir"),
		DataDir:         v.GetString("data_dir"),
		CacheDir:        v.GetString("cache_dir"),
		SidecarDir:      v.GetString("sidecar_dir"),
		DebugDir:        v.GetString("debug_dir"),
		LogDir:          v.GetString("log_dir"),
		Port:            v.GetString("port"),
		MetricsPort:     v.GetString("metrics_port"),
		ThumbnailWidth:  v.GetInt("thumbnail_width"),
		SyncWorkers:     v.GetInt("sync_workers"),
		FFprobePath:     v.GetString("ffprobe_path"),
		LogStaticFiles:  v.GetBool("log_static_files"),
		LogHealthChecks: v.GetBool("log_health_checks"),
		MetricsEnabled:  v.GetBool("metrics_enabled"),
	}

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	var err error
	config.OutputDir, err = filepath.Abs(config.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory path: %w", err)
	}
	logging.Info("  Output directory (absolute): %s", config.OutputDir)

	config.DataDir, err = filepath.Abs(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	config.CacheDir, err = filepath.Abs(config.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	if config.SidecarDir != "" {
		config.SidecarDir, err = filepath.Abs(config.SidecarDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sidecar directory path: %w", err)
		}
	}

	config.DatabasePath = filepath.Join(config.DataDir, "smartgallery.sqlite")
	config.ThumbnailDir = filepath.Join(config.CacheDir, "thumbnails")

	if err := ensureDirectory(config.OutputDir, "output"); err != nil {
		return nil, fmt.Errorf("output directory error: %w", err)
	}
	if err := ensureDirectory(config.DataDir, "data"); err != nil {
		return nil, fmt.Errorf("data directory error: %w", err)
	}

	logging.Debug("  Testing data directory write access...")
	if err := testWriteAccess(config.DataDir); err != nil {
		return nil, fmt.Errorf("data directory is not writable (required for the index): %w", err)
	}
	logging.Info("  [OK] Data directory is writable")

	config.ThumbnailsEnabled = setupOptionalDir(config.ThumbnailDir, "thumbnails")

	if config.LogDir != "" {
		if err := logging.SetupFileOutput(config.LogDir); err != nil {
			logging.Warn("  Log file output disabled: %v", err)
		} else {
			logging.Info("  [OK] Log file output: %s", config.LogDir)
		}
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Index:       ENABLED (required)")
	logging.Info("    Thumbnails:  %s", enabledString(config.ThumbnailsEnabled))
	logging.Info("    Metrics:     %s", enabledString(config.MetricsEnabled))

	return config, nil
}

func setupOptionalDir(path, name string) bool {
	logging.Debug("  Setting up %s directory: %s", name, path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("    Failed to create %s directory: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	testFile := filepath.Join(path, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		logging.Warn("    %s directory is not writable: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("    failed to remove test file %s: %v", testFile, err)
	}

	logging.Debug("    [OK] %s directory ready", name)
	return true
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogDatabaseInit logs index store initialization.
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("INDEX INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Index store initialized in %v", duration)
}

// LogSyncInit logs sync engine startup.
func LogSyncInit(workers int) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SYNC ENGINE")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Worker pool size: %d", workers)
	logging.Info("  Starting initial sync...")
}

// ServerConfig holds values for the started-server banner.
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with endpoint information.
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Application:   http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start.
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStepComplete logs a completed shutdown step.
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion.
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

func printBanner() {
	banner := `
------------------------------------------------------------
   _____                      __  ______       ____
  / ___/____ ___  ____ ______/ /_/ ____/___ _ / / /__  _______  __
  \__ \/ __ '__ \/ __ '/ ___/ __/ / __/ __ '/ / / _ \/ ___/ / / /
 ___/ / / / / / / /_/ / /  / /_/ /_/ / /_/ / / /  __/ /  / /_/ /
/____/_/ /_/ /_/\__,_/_/   \__/\____/\__,_/_/_/\___/_/   \__, /
                                                        /____/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
