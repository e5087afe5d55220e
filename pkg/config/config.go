package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alpacax/ssmtunnel/pkg/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/ini.v1"
)

const (
	TransportRelay  = "relay"
	TransportPlugin = "plugin"

	DefaultPluginPath       = "session-manager-plugin"
	DefaultInterruptGrace   = 5 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultMaxAttempts      = 3
	DefaultProbeAttempts    = 10

	// Limits for warnings
	MaxReasonableAttempts      = 20
	MaxReasonableProbeAttempts = 1000
)

// Default broker-side document names for each session document.
var DefaultDocuments = map[string]string{
	session.DocumentPortForwarding:             "AWS-StartPortForwardingSession",
	session.DocumentPortForwardingToRemoteHost: "AWS-StartPortForwardingSessionToRemoteHost",
}

var settingsValidator = validator.New()

// DefaultSettings returns the settings used when no config file exists.
func DefaultSettings() Settings {
	docs := make(map[string]string, len(DefaultDocuments))
	for k, v := range DefaultDocuments {
		docs[k] = v
	}
	return Settings{
		Transport:        TransportRelay,
		PluginPath:       DefaultPluginPath,
		InterruptGrace:   DefaultInterruptGrace,
		HandshakeTimeout: DefaultHandshakeTimeout,
		MaxAttempts:      DefaultMaxAttempts,
		ProbeAttempts:    DefaultProbeAttempts,
		Documents:        docs,
		SSLVerify:        true,
	}
}

// LoadConfig reads the first non-empty file in configFiles. A missing file is
// not an error; the defaults are enough to start a session.
func LoadConfig(configFiles []string) (Settings, error) {
	var validConfigFile string

	for _, configFile := range configFiles {
		if configFile == "" {
			continue
		}
		fileInfo, statErr := os.Stat(configFile)
		if statErr != nil {
			if !os.IsNotExist(statErr) {
				log.Error().Err(statErr).Msgf("Error accessing config file %s.", configFile)
			}
			continue
		}

		if fileInfo.Size() == 0 {
			log.Debug().Msgf("Config file %s is empty, skipping...", configFile)
			continue
		}

		log.Debug().Msgf("Using config file %s.", configFile)
		validConfigFile = configFile
		break
	}

	var config Config
	if validConfigFile == "" {
		log.Debug().Msg("No config file found, using defaults.")
	} else {
		iniData, err := ini.Load(validConfigFile)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to load config file %s: %w", validConfigFile, err)
		}
		if err := iniData.MapTo(&config); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config file %s: %w", validConfigFile, err)
		}
	}

	if config.Logging.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	return validateConfig(config)
}

func validateConfig(config Config) (Settings, error) {
	log.Debug().Msg("Validating configuration fields...")

	settings := DefaultSettings()
	settings.Region = config.AWS.Region
	settings.Profile = config.AWS.Profile
	settings.Debug = config.Logging.Debug
	settings.LogFile = config.Logging.File

	if config.Session.Transport != "" {
		settings.Transport = config.Session.Transport
	}
	if config.Session.PluginPath != "" {
		settings.PluginPath = config.Session.PluginPath
	}

	// Pointer distinguishes "not configured" from an explicit 0 (kill at once).
	if config.Session.InterruptGrace != nil {
		if *config.Session.InterruptGrace < 0 {
			log.Warn().Msgf("Interrupt grace (%d) is negative, using default.", *config.Session.InterruptGrace)
		} else {
			settings.InterruptGrace = time.Duration(*config.Session.InterruptGrace) * time.Second
		}
	}

	if config.Session.HandshakeTimeout > 0 {
		settings.HandshakeTimeout = time.Duration(config.Session.HandshakeTimeout) * time.Second
	}

	if config.Session.MaxAttempts > 0 {
		settings.MaxAttempts = config.Session.MaxAttempts
		log.Debug().Msgf("Using configured max attempts: %d", settings.MaxAttempts)
	}

	if config.Ports.ProbeAttempts > 0 {
		settings.ProbeAttempts = config.Ports.ProbeAttempts
		log.Debug().Msgf("Using configured probe attempts: %d", settings.ProbeAttempts)
	}

	if name := config.Documents.PortForwarding; name != "" {
		settings.Documents[session.DocumentPortForwarding] = name
	}
	if name := config.Documents.PortForwardingToRemoteHost; name != "" {
		settings.Documents[session.DocumentPortForwardingToRemoteHost] = name
	}

	if config.SSL.Verify != nil {
		settings.SSLVerify = *config.SSL.Verify
	}
	if !settings.SSLVerify {
		log.Warn().Msg(
			"SSL verification is turned off. " +
				"Please be aware that this setting is not appropriate for production use.",
		)
	}
	if caCert := config.SSL.CaCert; caCert != "" {
		if _, err := os.Stat(caCert); os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("given path for CA certificate does not exist: %s", caCert)
		}
		settings.CaCert = caCert
	}

	if settings.MaxAttempts > MaxReasonableAttempts {
		log.Warn().Msgf("Max attempts (%d) seems very high, consider reducing it", settings.MaxAttempts)
	}
	if settings.ProbeAttempts > MaxReasonableProbeAttempts {
		log.Warn().Msgf("Probe attempts (%d) seems very high, consider reducing it", settings.ProbeAttempts)
	}

	if err := settingsValidator.Struct(settings); err != nil {
		return Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

// Files returns the config search path for name, highest priority first.
// explicit comes from the command line and may be empty.
func Files(name, explicit string) []string {
	return []string{
		explicit,
		fmt.Sprintf("/etc/%s/%s.conf", name, name),
		filepath.Join(os.Getenv("HOME"), fmt.Sprintf(".%s.conf", name)),
	}
}
