package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseArgs() []string {
	return []string{"-m", "send", "-a", "239.1.2.3", "-b", "24", "-r", "48000", "-c", "2"}
}

func TestParseDefaults(t *testing.T) {
	cfg, version, err := Parse(baseArgs())
	require.NoError(t, err)
	require.False(t, version)
	assert.Equal(t, ModeSender, cfg.Mode)
	assert.Equal(t, "239.1.2.3", cfg.Address)
	assert.Equal(t, uint16(DefaultPort), cfg.Port)
	assert.Equal(t, uint32(1000), cfg.PTime)
	assert.NotEmpty(t, cfg.Session)
	assert.Equal(t, "Channel 1-2", cfg.Title)
}

func TestParseExplicitPort(t *testing.T) {
	args := append(baseArgs()[2:], "-m", "recv", "-a", "239.1.2.3:6004")
	cfg, _, err := Parse(args)
	require.NoError(t, err)
	assert.Equal(t, uint16(6004), cfg.Port)
	assert.Equal(t, ModeReceiver, cfg.Mode)
}

func TestParseRejectsPortOutOfRange(t *testing.T) {
	_, _, err := Parse([]string{"-m", "send", "-a", "239.1.2.3:80", "-b", "24", "-r", "48000", "-c", "2"})
	assert.Error(t, err)
}

func TestParseRequiresMode(t *testing.T) {
	_, _, err := Parse([]string{"-a", "239.1.2.3", "-b", "24", "-r", "48000", "-c", "2"})
	assert.Error(t, err)
}

func TestParseRejectsBadMode(t *testing.T) {
	_, _, err := Parse([]string{"-m", "bogus", "-a", "239.1.2.3", "-b", "24", "-r", "48000", "-c", "2"})
	assert.Error(t, err)
}

func TestParseRequiresAddress(t *testing.T) {
	_, _, err := Parse([]string{"-m", "send", "-b", "24", "-r", "48000", "-c", "2"})
	assert.Error(t, err)
}

func TestParseRejectsBadDepth(t *testing.T) {
	_, _, err := Parse([]string{"-m", "send", "-a", "239.1.2.3", "-b", "20", "-r", "48000", "-c", "2"})
	assert.Error(t, err)
}

func TestParseRejectsBadRate(t *testing.T) {
	_, _, err := Parse([]string{"-m", "send", "-a", "239.1.2.3", "-b", "24", "-r", "22050", "-c", "2"})
	assert.Error(t, err)
}

func TestParseRejectsBadChannels(t *testing.T) {
	_, _, err := Parse([]string{"-m", "send", "-a", "239.1.2.3", "-b", "24", "-r", "48000", "-c", "9"})
	assert.Error(t, err)
}

func TestParseRejectsBadPTime(t *testing.T) {
	args := append(baseArgs(), "-p", "500")
	_, _, err := Parse(args)
	assert.Error(t, err)
}

func TestParseVersionShortCircuits(t *testing.T) {
	cfg, version, err := Parse([]string{"-V"})
	require.NoError(t, err)
	assert.True(t, version)
	assert.Nil(t, cfg)
}

func TestParseMetricsAddrDefaultEmpty(t *testing.T) {
	cfg, _, err := Parse(baseArgs())
	require.NoError(t, err)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestParseMetricsAddr(t *testing.T) {
	args := append(baseArgs(), "--metrics-addr", ":9479")
	cfg, _, err := Parse(args)
	require.NoError(t, err)
	assert.Equal(t, ":9479", cfg.MetricsAddr)
}
