package logging

import (
	"fmt"
	"io"
	"net"
	"time"
)

// SyslogConfig configures an optional RFC5424-ish remote syslog sink.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns the disabled default.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "ibnctl",
		Facility: 1,
	}
}

// syslogWriter writes pre-formatted log lines to a remote syslog collector.
type syslogWriter struct {
	conn     net.Conn
	tag      string
	facility int
}

// NewSyslogWriter dials the configured syslog collector and returns an
// io.Writer. Missing defaults (port/protocol/tag) are filled in.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "ibnctl"
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	conn, err := net.DialTimeout(cfg.Protocol, addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog %s: %w", addr, err)
	}

	return &syslogWriter{conn: conn, tag: cfg.Tag, facility: cfg.Facility}, nil
}

func (w *syslogWriter) Write(p []byte) (int, error) {
	priority := w.facility*8 + 6 // informational severity
	msg := fmt.Sprintf("<%d>%s %s: %s", priority, time.Now().Format(time.RFC3339), w.tag, p)
	if _, err := w.conn.Write([]byte(msg)); err != nil {
		return 0, err
	}
	return len(p), nil
}
