package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"fiotrack/internal/domain"
)

// Config models fiotrack.yml. The six sector ids and their pipeline order
// are fixed in code; config only carries display names and capacity
// defaults.
type Config struct {
	Plant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"plant"`
	Sectors  map[string]SectorConfig `yaml:"sectors"`
	Capacity struct {
		DefaultHoursPerDay float64 `yaml:"default_hours_per_day"`
	} `yaml:"capacity"`
	Risk struct {
		// Orders due within this many days count toward the weekly dashboard window.
		DeliveryWindowDays int `yaml:"delivery_window_days"`
	} `yaml:"risk"`
}

type SectorConfig struct {
	Name string `yaml:"name"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Plant.ID == "" {
		return fmt.Errorf("config.plant.id is required")
	}
	for id := range c.Sectors {
		if !domain.ValidSector(domain.SectorID(id)) {
			return fmt.Errorf("config.sectors contains unknown sector id %s", id)
		}
	}
	if c.Capacity.DefaultHoursPerDay <= 0 {
		return fmt.Errorf("config.capacity.default_hours_per_day must be positive")
	}
	if c.Risk.DeliveryWindowDays <= 0 {
		return fmt.Errorf("config.risk.delivery_window_days must be positive")
	}
	return nil
}

// SectorName resolves a sector's display name, preferring config overrides.
func (c *Config) SectorName(id domain.SectorID) string {
	if c != nil {
		if sc, ok := c.Sectors[string(id)]; ok && sc.Name != "" {
			return sc.Name
		}
	}
	s, _ := domain.SectorByID(id)
	return s.Name
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fiotrack.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ft config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a plant.
func Default(plantID string) *Config {
	var cfg Config
	cfg.Plant.ID = plantID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, plantID))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(plantID string) string {
	return fmt.Sprintf(defaultTemplate, plantID)
}

const defaultTemplate = `plant:
  id: %s
  name: Fábrica

sectors:
  tecelagem:
    name: Tecelagem
  felpo_cru:
    name: Felpo Cru
  tinturaria:
    name: Tinturaria
  confeccao:
    name: Confecção
  embalagem:
    name: Embalagem/Acabamento
  expedicao:
    name: Stock/Expedição

capacity:
  default_hours_per_day: 24

risk:
  delivery_window_days: 7
`
