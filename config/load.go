package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/afts/internal/errs"
)

// EnvPrefix prefixes environment overrides: AFTS_RISK_TYPE sets risk.type.
const EnvPrefix = "AFTS"

// SubConfigs are the profile keys that may name a separate YAML file
// instead of holding the section inline.
var SubConfigs = []string{
	"data", "risk", "ftmo_plus", "sizer", "behaviour", "strategy", "features",
	"execution", "assets", "rl", "logging", "journal", "events", "live", "gate",
}

// ProfilePath resolves --profile NAME against --profile-path. A NAME that
// already points at a file is used as is.
func ProfilePath(dir, name string) string {
	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		if _, err := os.Stat(name); err == nil {
			return name
		}
		return filepath.Join(dir, name)
	}
	return filepath.Join(dir, name+".yaml")
}

// LoadEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the profile at path. A section given as a string names a YAML
// file, relative to the profile's directory, holding that section. Environment variables
// with the AFTS_ prefix override any key, and OANDA credentials fall back
// to OANDA_TOKEN and OANDA_ACCOUNT_ID.
func Load(path string) (*Profile, error) {
	raw, err := readSection(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	base := filepath.Dir(path)
	for _, key := range SubConfigs {
		ref, ok := raw[key].(string)
		if !ok {
			continue
		}
		section, err := readSection(filepath.Join(base, ref))
		if err != nil {
			return nil, errs.Configf("%s: %v", key, err)
		}
		raw[key] = section
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}
	if err := v.MergeConfigMap(raw); err != nil {
		return nil, fmt.Errorf("merge profile: %w", err)
	}

	p := &Profile{}
	if err := v.Unmarshal(p); err != nil {
		return nil, errs.Configf("decode profile: %v", err)
	}
	if p.Name == "" || p.Name == Default().Name {
		if _, named := raw["name"]; !named {
			p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
	}
	p.applyEnv()
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// setDefaults registers every field of def so env overrides reach keys the
// profile leaves out.
func setDefaults(v *viper.Viper, def *Profile) error {
	b, err := yaml.Marshal(def)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, val := range m {
		v.SetDefault(k, val)
	}
	return nil
}

func readSection(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func (p *Profile) applyEnv() {
	o := &p.Live.OANDA
	o.Token = os.ExpandEnv(o.Token)
	o.AccountID = os.ExpandEnv(o.AccountID)
	if o.Token == "" {
		o.Token = os.Getenv("OANDA_TOKEN")
	}
	if o.AccountID == "" {
		o.AccountID = os.Getenv("OANDA_ACCOUNT_ID")
	}
}

// Write renders p as YAML.
func (p *Profile) Write(path string) error {
	b, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// Redacted returns a copy with credentials blanked, fit for config_used.yaml.
func (p *Profile) Redacted() *Profile {
	cp := *p
	if cp.Live.OANDA.Token != "" {
		cp.Live.OANDA.Token = "***"
	}
	return &cp
}
