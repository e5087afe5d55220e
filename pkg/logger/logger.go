package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alpacax/ssmtunnel/pkg/config"
	"github.com/alpacax/ssmtunnel/pkg/version"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger points the global logger at stderr and, when configured, at a
// rotated log file. Stdout is never used: it carries session bytes.
// The returned logger is nil when no log file is configured.
func InitLogger(settings config.Settings, verbose bool) *lumberjack.Logger {
	return initLogger(os.Stderr, settings, verbose)
}

func initLogger(console io.Writer, settings config.Settings, verbose bool) *lumberjack.Logger {
	var logRotate *lumberjack.Logger
	writers := []io.Writer{PrettyWriter(console, version.Version == "dev")}

	if settings.LogFile != "" {
		logRotate = &lumberjack.Logger{
			Filename:   settings.LogFile,
			MaxSize:    10, // Max size in MB before rotation
			MaxBackups: 3,  // Max number of backup files
			MaxAge:     14, // Max age in days
			Compress:   true,
		}
		writers = append(writers, PrettyWriter(logRotate, true))
	}

	if verbose || settings.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Every line of one invocation shares a run id, which helps when several
	// sessions write to the same log file.
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Caller().
		Str("run_id", uuid.NewString()).
		Logger()

	return logRotate
}

// PrettyWriter returns a zerolog.ConsoleWriter with or without caller info
func PrettyWriter(out io.Writer, showCaller bool) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{
		Out:          out,
		NoColor:      true,
		TimeFormat:   time.RFC3339,
		TimeLocation: time.Local,
		FormatLevel: func(i interface{}) string {
			return "[" + strings.ToUpper(fmt.Sprint(i)) + "]"
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprint(i)
		},
		FormatFieldName: func(i interface{}) string {
			return "(" + fmt.Sprint(i) + ")"
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprint(i)
		},
	}
	if showCaller {
		cw.FormatCaller = func(i interface{}) string {
			if i == nil || i == "" {
				return ""
			}
			callerStr := fmt.Sprint(i)
			if idx := strings.Index(callerStr, "/ssmtunnel/"); idx != -1 {
				callerStr = callerStr[idx+len("/ssmtunnel/"):]
			}
			return fmt.Sprintf("(%s)", callerStr)
		}
	} else {
		cw.FormatCaller = func(i interface{}) string { return "" }
	}
	return cw
}
