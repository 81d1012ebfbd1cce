package configuration

import (
	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

func PrepareConfigurationTOML(fname string) (*Configuration, error) {
	cfg := &Configuration{}
	meta, err := toml.DecodeFile(fname, cfg)
	if err != nil {
		return nil, err
	}
	for _, key := range meta.Undecoded() {
		log.Warn().Str("scope", "configuration").Str("key", key.String()).Msg("Unknown configuration key")
	}
	return cfg, nil
}
