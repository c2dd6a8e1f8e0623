package config

import (
	"errors"
	"testing"
	"time"

	"github.com/bigbag/cyacd-flasher/internal/transport/serial"
)

func validSerial() Config {
	return Config{ImagePath: "fw.cyacd", SerialPort: "/dev/ttyACM0"}
}

func TestValidate_Table(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"serial ok", func(c *Config) {}, false},
		{"no transport", func(c *Config) { c.SerialPort = "" }, true},
		{"both transports", func(c *Config) { c.CANDriver = "socketcan"; c.CANChannel = "can0" }, true},
		{"can without channel", func(c *Config) { c.SerialPort = ""; c.CANDriver = "socketcan" }, true},
		{"can ok", func(c *Config) { c.SerialPort = ""; c.CANDriver = "socketcan"; c.CANChannel = "can0" }, false},
		{"bad parity", func(c *Config) { c.Parity = "X" }, true},
		{"good parity", func(c *Config) { c.Parity = "E" }, false},
		{"bad stopbits", func(c *Config) { c.StopBits = 3 }, true},
		{"bad chunk", func(c *Config) { c.ChunkSize = 48 }, true},
		{"good chunk", func(c *Config) { c.ChunkSize = 128 }, false},
		{"downgrade conflict", func(c *Config) { c.Downgrade = true; c.NoDowngrade = true }, true},
		{"newapp conflict", func(c *Config) { c.NewApp = true; c.NoNewApp = true }, true},
		{"negative timeout", func(c *Config) { c.TimeoutSecs = -1 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validSerial()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil {
				var ue *UsageError
				if !errors.As(err, &ue) {
					t.Fatalf("error is not a UsageError: %v", err)
				}
			}
		})
	}
}

func TestRepetitiveInit_Mapping(t *testing.T) {
	cfg := validSerial()

	cfg.RepetitiveSecs = 2
	if got := cfg.RepetitiveInit(); got != 2*time.Second {
		t.Fatalf("RepetitiveInit() = %v, want 2s", got)
	}

	cfg.RepetitiveSecs = 0
	if got := cfg.RepetitiveInit(); got != 0 {
		t.Fatalf("RepetitiveInit() = %v, want 0", got)
	}

	cfg.RepetitiveSecs = -1
	if got := cfg.RepetitiveInit(); got >= 0 {
		t.Fatalf("RepetitiveInit() = %v, want negative", got)
	}
}

func TestSerialConfig_Defaults(t *testing.T) {
	cfg := validSerial()
	sc := cfg.SerialConfig()
	if sc.BaudRate != DefaultSerialBaudrate {
		t.Fatalf("BaudRate = %d, want %d", sc.BaudRate, DefaultSerialBaudrate)
	}
	if sc.Parity != serial.ParityNone || sc.StopBits != serial.StopBitsOne {
		t.Fatalf("unexpected parity/stopbits defaults: %v %v", sc.Parity, sc.StopBits)
	}
}

func TestCANConfig_Mapping(t *testing.T) {
	cfg := Config{CANDriver: "socketcan", CANChannel: "can0", CANID: 0x123, CANWildcardID: 0x7FF, CANEcho: true}
	cc := cfg.CANConfig()
	if cc.Interface != "can0" || cc.DeviceID != 0x123 || cc.WildcardID != 0x7FF || !cc.Echo {
		t.Fatalf("unexpected CAN config: %+v", cc)
	}
	if cc.Bitrate != DefaultCANBitrate {
		t.Fatalf("Bitrate = %d, want default %d", cc.Bitrate, DefaultCANBitrate)
	}
}

func TestSessionOptions_Mapping(t *testing.T) {
	cfg := validSerial()
	cfg.Erase = true
	cfg.NoDowngrade = true
	cfg.ChunkSize = 64
	cfg.RepetitiveSecs = 1

	o := cfg.SessionOptions()
	if !o.Erase || !o.DenyDowngrade || o.AllowDowngrade {
		t.Fatalf("policy flags not mapped: %+v", o)
	}
	if o.ChunkSize != 64 || o.RepetitiveInit != time.Second {
		t.Fatalf("chunk/repetitive not mapped: %+v", o)
	}
}

func TestTimeout_Default(t *testing.T) {
	cfg := validSerial()
	if got := cfg.Timeout(); got != 5*time.Second {
		t.Fatalf("Timeout() = %v, want 5s", got)
	}
	cfg.TimeoutSecs = 0.5
	if got := cfg.Timeout(); got != 500*time.Millisecond {
		t.Fatalf("Timeout() = %v, want 500ms", got)
	}
}
