package configuration

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// PrepareConfiguration reads JSON or TOML file (chosen by extension) and fills defaults
func PrepareConfiguration(confName string) (*Configuration, error) {
	if confName == "" {
		return nil, errors.New("Empty file name")
	}
	fileFormat := strings.TrimPrefix(strings.ToLower(filepath.Ext(confName)), ".")
	var cfg *Configuration
	var err error
	switch fileFormat {
	case "json":
		cfg, err = PrepareConfigurationJSON(confName)
	case "toml":
		cfg, err = PrepareConfigurationTOML(confName)
	default:
		return nil, errors.Errorf("Not supported file format '%s'", fileFormat)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Can't read configuration '%s'", confName)
	}
	postProcessDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, errors.Wrapf(err, "Bad configuration '%s'", confName)
	}
	return cfg, nil
}
