package main

import (
	"io"
	"os"
	"testing"

	"livenotes/audio"
	"livenotes/beep"
	"livenotes/config"
)

func TestMain(m *testing.M) {
	beep.Disable()
	os.Exit(m.Run())
}

func TestParseFlagsOverrideConfig(t *testing.T) {
	opts, err := parseFlags([]string{"-server", "https://notes.example.com", "-token", "abc", "-device", "usb", "-metrics", ":9100", "-test"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if !opts.test || !opts.realtime || !opts.beep {
		t.Errorf("test=%v realtime=%v", opts.test, opts.realtime)
	}

	cfg := config.Default()
	cfg.Client.Token = "from-file"
	if err := opts.apply(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Client.Server != "https://notes.example.com" || cfg.Client.Token != "abc" ||
		cfg.Client.Device != "usb" || cfg.Client.MetricsAddress != ":9100" {
		t.Errorf("client config = %+v", cfg.Client)
	}
}

func TestApplyKeepsConfigWhenFlagsEmpty(t *testing.T) {
	opts, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Client.Token = "from-file"
	if err := opts.apply(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Client.Token != "from-file" || cfg.Client.Server != config.Default().Client.Server {
		t.Errorf("client config = %+v", cfg.Client)
	}
}

func TestApplyRejectsBadServer(t *testing.T) {
	opts, err := parseFlags([]string{"-server", "ftp://host"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if err := opts.apply(config.Default()); err == nil {
		t.Error("expected validation error for ftp server")
	}
}

func TestParseFlagsUnknown(t *testing.T) {
	if _, err := parseFlags([]string{"-nope"}, io.Discard); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestDeviceLineText(t *testing.T) {
	if got := deviceLineText(nil); got != "mic: system default" {
		t.Errorf("nil device = %q", got)
	}
	if got := deviceLineText(&audio.DeviceInfo{Name: "AirPods Pro"}); got != "mic: AirPods Pro (BT!)" {
		t.Errorf("bluetooth device = %q", got)
	}
}
