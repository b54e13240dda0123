// Package config parses and validates the command-line flags described in
// §6, in the idiom of spf13/pflag: one flag per setting on a FlagSet built
// by a single Parse entry point, and errors reported through Go's error type
// rather than process exit inside the parser.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/markmandel/aes67link/internal/wire"
)

// Mode selects sender or receiver operation.
type Mode int

const (
	ModeSender Mode = iota
	ModeReceiver
)

func (m Mode) String() string {
	if m == ModeSender {
		return "send"
	}
	return "recv"
}

// DefaultPort is the RTP/SAP media port used when --address carries none.
const DefaultPort = 5004

// Config holds the fully validated, defaulted set of flags for one run.
type Config struct {
	Mode Mode

	Address string
	Port    uint16

	Interface string

	Session string
	Title   string

	Bits     wire.Depth
	Rate     uint32
	Channels uint32
	PTime    uint32 // microseconds

	ClientName string
	Ports      string // comma-separated host-audio port connection list, "-" to skip

	UID int
	GID int

	Verbose bool
	Version bool

	// MetricsAddr, when non-empty, starts the Prometheus exporter on this
	// address (e.g. ":9479"). Disabled by default: monitoring is an
	// optional addition, not a required feature.
	MetricsAddr string
}

var validRates = map[uint32]bool{44100: true, 48000: true, 96000: true}
var validPTimes = map[uint32]bool{4000: true, 1000: true, 333: true, 250: true, 125: true}

// Parse builds a Config from args (pass os.Args[1:] in production), applies
// the original's session/title defaulting, and validates every constraint
// §6 names. It never calls os.Exit; callers decide how to report errors
// and --version/--help requests.
func Parse(args []string) (*Config, bool, error) {
	fs := pflag.NewFlagSet("aes67link", pflag.ContinueOnError)

	mode := fs.StringP("mode", "m", "", "AES67 sender or receiver: \"s\"/\"send\" or \"r\"/\"recv\" (required)")
	address := fs.StringP("address", "a", "", "AES67 multicast address, optionally ip:port (default port 5004) (required)")
	iface := fs.StringP("interface", "i", "", "network interface to send/receive on")

	session := fs.StringP("session", "s", "", "SDP session name (sender only; defaults to hostname.pid)")
	title := fs.StringP("title", "t", "", "SDP session title (sender only; defaults to a generic channel title)")

	bits := fs.Uint32P("bits", "b", 0, "encoding bit depth: 16, 24 or 32 (required)")
	rate := fs.Uint32P("rate", "r", 0, "sample rate: 44100, 48000 or 96000 (required)")
	channels := fs.Uint32P("channels", "c", 0, "channel count, 1-8 (required)")
	ptime := fs.Uint32P("ptime", "p", 1000, "microseconds of audio per RTP packet: 4000, 1000, 333, 250 or 125")

	client := fs.StringP("client", "l", "aes67link", "host audio client name")
	ports := fs.StringP("ports", "o", "", "comma-separated host audio port connection list, \"-\" to skip")

	uid := fs.IntP("user", "u", 0, "drop privileges to this uid after startup")
	gid := fs.IntP("group", "g", 0, "drop privileges to this gid after startup")

	verbose := fs.BoolP("verbose", "v", false, "verbose debugging output")
	version := fs.BoolP("version", "V", false, "show version and exit")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address (disabled if empty)")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	if *version {
		return nil, true, nil
	}

	cfg := &Config{
		Interface:  *iface,
		Session:    *session,
		Title:      *title,
		Rate:       *rate,
		Channels:   *channels,
		PTime:      *ptime,
		ClientName: *client,
		Ports:      *ports,
		UID:         *uid,
		GID:         *gid,
		Verbose:     *verbose,
		Version:     *version,
		MetricsAddr: *metricsAddr,
	}

	switch *mode {
	case "s", "send":
		cfg.Mode = ModeSender
	case "r", "recv":
		cfg.Mode = ModeReceiver
	case "":
		return nil, false, fmt.Errorf("config: --mode is required (\"s\"/\"send\" or \"r\"/\"recv\")")
	default:
		return nil, false, fmt.Errorf("config: --mode must be \"s\"/\"send\" or \"r\"/\"recv\", got %q", *mode)
	}

	if *address == "" {
		return nil, false, fmt.Errorf("config: --address is required")
	}
	addr, port, err := splitAddress(*address)
	if err != nil {
		return nil, false, err
	}
	cfg.Address = addr
	cfg.Port = port

	if *bits == 0 {
		return nil, false, fmt.Errorf("config: --bits is required")
	}
	depth, err := wire.NewDepth(*bits)
	if err != nil {
		return nil, false, fmt.Errorf("config: %w", err)
	}
	cfg.Bits = depth

	if *channels == 0 {
		return nil, false, fmt.Errorf("config: --channels is required")
	}
	if *channels < 1 || *channels > 8 {
		return nil, false, fmt.Errorf("config: --channels must be 1-8, got %d", *channels)
	}

	if *rate == 0 {
		return nil, false, fmt.Errorf("config: --rate is required")
	}
	if !validRates[*rate] {
		return nil, false, fmt.Errorf("config: --rate must be one of 44100, 48000, 96000, got %d", *rate)
	}

	if !validPTimes[*ptime] {
		return nil, false, fmt.Errorf("config: --ptime must be one of 4000, 1000, 333, 250, 125, got %d", *ptime)
	}

	if cfg.Session == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "aes67link"
		}
		cfg.Session = fmt.Sprintf("%s.%d", host, os.Getpid())
	}
	if cfg.Title == "" {
		cfg.Title = fmt.Sprintf("Channel 1-%d", cfg.Channels)
	}

	return cfg, false, nil
}

// splitAddress parses "ip" or "ip:port" per the original's -a handling,
// defaulting to DefaultPort and validating the 1025-49152 range.
func splitAddress(raw string) (string, uint16, error) {
	host, portStr, found := strings.Cut(raw, ":")
	if !found || portStr == "" {
		return host, DefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("config: invalid port in --address %q: %w", raw, err)
	}
	if port < 1025 || port > 49152 {
		return "", 0, fmt.Errorf("config: --address port must be within 1025-49152, got %d", port)
	}
	return host, uint16(port), nil
}
