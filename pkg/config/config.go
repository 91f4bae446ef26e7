// Package config loads the yaml configuration that wires one account's
// trading runtime: network endpoint, signing key, submission policy, and
// the optional persistence and server blocks.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/lifecycle"
	"github.com/lumebot/lumebot/pkg/persistence"
	"github.com/lumebot/lumebot/pkg/submitter"
	"github.com/lumebot/lumebot/pkg/types"
)

type NetworkConfig struct {
	// Endpoint is the ledger network API base URL. The built-in simulator
	// is selected with the special value "simulator".
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// RequestTimeout bounds individual network calls.
	RequestTimeout types.Duration `json:"requestTimeout" yaml:"requestTimeout"`
}

type AccountConfig struct {
	AccountID string `json:"accountID" yaml:"accountID"`

	// KeyHandle names the signing key in the configured backend. Private
	// key material never appears in the config file.
	KeyHandle string `json:"keyHandle" yaml:"keyHandle"`
}

type SequenceConfig struct {
	// EnablePipelining permits multiple in-flight sequence slots per
	// account. Off by default: confirmations then arrive strictly in
	// reservation order.
	EnablePipelining bool `json:"enablePipelining" yaml:"enablePipelining"`
}

type ReserveConfig struct {
	BaseAccountReserve fixedpoint.Value `json:"baseAccountReserve" yaml:"baseAccountReserve"`
	EntryReserve       fixedpoint.Value `json:"entryReserve" yaml:"entryReserve"`
}

type PathfinderConfig struct {
	MaxHops           int     `json:"maxHops" yaml:"maxHops"`
	SlippageTolerance float64 `json:"slippageTolerance" yaml:"slippageTolerance"`
}

type PersistenceConfig struct {
	Redis *persistence.RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
	Json  *JsonStoreConfig         `json:"json,omitempty" yaml:"json,omitempty"`
}

type JsonStoreConfig struct {
	Directory string `json:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Bind string `json:"bind" yaml:"bind"`
}

type Config struct {
	Network NetworkConfig `json:"network" yaml:"network"`
	Account AccountConfig `json:"account" yaml:"account"`

	Sequence  SequenceConfig    `json:"sequence" yaml:"sequence"`
	Reserve   *ReserveConfig    `json:"reserve,omitempty" yaml:"reserve,omitempty"`
	Submitter submitter.Options `json:"submitter" yaml:"submitter"`
	Lifecycle lifecycle.Config  `json:"lifecycle" yaml:"lifecycle"`

	Pathfinder  *PathfinderConfig  `json:"pathfinder,omitempty" yaml:"pathfinder,omitempty"`
	Persistence *PersistenceConfig `json:"persistence,omitempty" yaml:"persistence,omitempty"`
	Server      *ServerConfig      `json:"server,omitempty" yaml:"server,omitempty"`
}

// Load reads and validates a yaml config file.
func Load(configFile string) (*Config, error) {
	content, err := os.ReadFile(configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "can not read config file %s", configFile)
	}

	var config Config
	if err := yaml.Unmarshal(content, &config); err != nil {
		return nil, errors.Wrapf(err, "can not parse config file %s", configFile)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// the lifecycle block shares the account id
	config.Lifecycle.AccountID = config.Account.AccountID

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Account.AccountID == "" {
		return errors.New("account.accountID is required")
	}
	if c.Network.Endpoint == "" {
		return errors.New("network.endpoint is required")
	}
	if c.Reserve != nil {
		if c.Reserve.BaseAccountReserve.Sign() <= 0 || c.Reserve.EntryReserve.Sign() <= 0 {
			return errors.New("reserve values must be positive")
		}
	}
	if c.Pathfinder != nil && c.Pathfinder.MaxHops < 1 {
		return errors.New("pathfinder.maxHops must be at least 1")
	}
	return nil
}
