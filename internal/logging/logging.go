package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/saltyorg/dataplow/internal/config"
)

const (
	DefaultLogFilePath = "dataplow.log"
	DefaultMaxSizeMB   = 50
	DefaultMaxBackups  = 5
	DefaultMaxAgeDays  = 30
	DefaultCompress    = true
)

const timeFormat = "2006-01-02 15:04:05"

// Apply sets the global log level from the CLI verbosity count and installs
// console + rotating file writers. An empty logFilePath disables the file.
func Apply(verbosity int, loader *config.Loader, logFilePath string) {
	zerolog.SetGlobalLevel(LevelForVerbosity(verbosity))
	applyOutputs(os.Stdout, loader, logFilePath)
}

// LevelForVerbosity maps -v counts to levels: 0 info, 1 debug, 2+ trace.
func LevelForVerbosity(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.InfoLevel
	case verbosity == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

func applyOutputs(console io.Writer, loader *config.Loader, logFilePath string) {
	consoleOutput := zerolog.ConsoleWriter{Out: console, TimeFormat: timeFormat}
	log.Logger = zerolog.New(consoleOutput).With().Timestamp().Logger()

	if logFilePath == "" {
		return
	}

	if err := ensureLogDir(logFilePath); err != nil {
		log.Error().Err(err).Str("path", logFilePath).Msg("Failed to prepare log directory; logging to console only")
		return
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    positiveOr(loader.Int("log.max_size_mb", DefaultMaxSizeMB), DefaultMaxSizeMB),
		MaxBackups: nonNegativeOr(loader.Int("log.max_backups", DefaultMaxBackups), DefaultMaxBackups),
		MaxAge:     nonNegativeOr(loader.Int("log.max_age_days", DefaultMaxAgeDays), DefaultMaxAgeDays),
		Compress:   loader.Bool("log.compress", DefaultCompress),
	}

	fileConsole := zerolog.ConsoleWriter{
		Out:        fileWriter,
		TimeFormat: timeFormat,
		NoColor:    true,
	}

	multi := zerolog.MultiLevelWriter(consoleOutput, fileConsole)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
}

// FilePathForDB returns a log file path that lives alongside the database file.
func FilePathForDB(dbPath string) string {
	if dbPath == "" {
		return DefaultLogFilePath
	}
	absDBPath, err := filepath.Abs(dbPath)
	if err != nil {
		return filepath.Join(filepath.Dir(dbPath), DefaultLogFilePath)
	}
	return filepath.Join(filepath.Dir(absDBPath), DefaultLogFilePath)
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func nonNegativeOr(v, def int) int {
	if v >= 0 {
		return v
	}
	return def
}
