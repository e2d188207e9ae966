package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dscengine/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk deployment description of an engine instance.
type Config struct {
	NetworkName          string       `toml:"NetworkName"`
	DataDir              string       `toml:"DataDir"`
	EngineAddress        string       `toml:"EngineAddress"`
	OperatorKeystorePath string       `toml:"OperatorKeystorePath"`
	Stablecoin           Stablecoin   `toml:"Stablecoin"`
	Collateral           []Collateral `toml:"Collateral"`
	Genesis              []Allocation `toml:"Genesis"`
}

// Load loads the configuration from the given path, writing a local default
// deployment when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "dsc-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./dsc-data"
	}
	if cfg.Collateral == nil {
		cfg.Collateral = []Collateral{}
	}
	return cfg, nil
}

// OperatorAddress returns the address controlled by the operator keystore.
func (c *Config) OperatorAddress(passphrase string) (crypto.Address, error) {
	key, err := crypto.LoadFromKeystore(c.OperatorKeystorePath, passphrase)
	if err != nil {
		return crypto.Address{}, err
	}
	return key.PubKey().Address(), nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a local deployment with WETH and WBTC
// collateral backed by pushable feeds.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}
	operator := key.PubKey().Address()

	cfg := &Config{
		NetworkName:          "dsc-local",
		DataDir:              "./dsc-data",
		EngineAddress:        derivedAddress("engine").String(),
		OperatorKeystorePath: keystorePath,
		Stablecoin: Stablecoin{
			Address: derivedAddress("stablecoin").String(),
			Owner:   operator.String(),
		},
		Collateral: []Collateral{
			{Symbol: "WETH", Asset: derivedAddress("asset/WETH").String(), Feed: derivedAddress("feed/ETH-USD").String(), InitialPrice: "200000000000"},
			{Symbol: "WBTC", Asset: derivedAddress("asset/WBTC").String(), Feed: derivedAddress("feed/BTC-USD").String(), InitialPrice: "6000000000000"},
		},
		Genesis: []Allocation{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
