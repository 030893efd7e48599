// Package logging configures the process-wide zerolog logger and exposes
// component-scoped child loggers via a global Log plus per-component
// factory functions.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global, initialized logger. Components should prefer their
// scoped factory function below rather than writing to Log directly.
var Log zerolog.Logger

// Initialize configures the global logger's level and output format.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "sandboxctl").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

func Scheduler() *zerolog.Logger  { return component("scheduler") }
func WarmPool() *zerolog.Logger   { return component("warmpool") }
func Callback() *zerolog.Logger   { return component("callback") }
func Reconciler() *zerolog.Logger { return component("reconciler") }
func Storage() *zerolog.Logger    { return component("storage") }
func Backend() *zerolog.Logger    { return component("backend") }
func HTTP() *zerolog.Logger       { return component("http") }
func Events() *zerolog.Logger     { return component("events") }
