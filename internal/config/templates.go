package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Render encodes cfg as TOML.
func Render(cfg File) ([]byte, error) {
	out, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config render failed: %w", err)
	}
	return out, nil
}

// Template returns a starter profile. "link" is the full default profile;
// "loopback" points at a pty pair for bench testing without hardware.
func Template(kind string) (string, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "link":
	case "loopback":
		cfg.Serial.Port = "/tmp/ttyMAV0"
		cfg.Serial.Baud = 115200
		cfg.Verify.Window = "2s"
		cfg.Verify.Settle = "250ms"
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	out, err := Render(cfg)
	if err != nil {
		return "", err
	}
	return templateHeader + string(out), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const templateHeader = `# mavbus link profile
# durations use Go syntax (500ms, 2s); streams accept names or MAV_DATA_STREAM ids.

`
