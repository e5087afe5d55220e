package config

import "time"

type Settings struct {
	Region           string
	Profile          string
	Transport        string        `validate:"oneof=relay plugin"`
	PluginPath       string        `validate:"required"`
	InterruptGrace   time.Duration // How long the helper gets to exit after an interrupt
	HandshakeTimeout time.Duration
	MaxAttempts      int `validate:"min=1"` // Session attempts when a probed port is lost to a race
	ProbeAttempts    int `validate:"min=1"`
	Documents        map[string]string
	SSLVerify        bool
	CaCert           string // CA certificate file path
	Debug            bool
	LogFile          string // Empty keeps logs on stderr only
}

type Config struct {
	AWS struct {
		Region  string `ini:"region"`
		Profile string `ini:"profile"`
	} `ini:"aws"`
	Session struct {
		Transport        string `ini:"transport"`
		PluginPath       string `ini:"plugin_path"`
		InterruptGrace   *int   `ini:"interrupt_grace"`
		HandshakeTimeout int    `ini:"handshake_timeout"`
		MaxAttempts      int    `ini:"max_attempts"`
	} `ini:"session"`
	Documents struct {
		PortForwarding             string `ini:"port_forwarding"`
		PortForwardingToRemoteHost string `ini:"port_forwarding_to_remote_host"`
	} `ini:"documents"`
	Ports struct {
		ProbeAttempts int `ini:"probe_attempts"`
	} `ini:"ports"`
	SSL struct {
		Verify *bool  `ini:"verify"`
		CaCert string `ini:"ca_cert"`
	} `ini:"ssl"`
	Logging struct {
		Debug bool   `ini:"debug"`
		File  string `ini:"file"`
	} `ini:"logging"`
}
