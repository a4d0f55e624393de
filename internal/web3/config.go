package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single settlement network definition.
type ChainDefinition struct {
	ChainID       int64  `yaml:"chain_id"`
	RPCURL        string `yaml:"rpc_url"`
	Token         string `yaml:"token"`
	TokenSymbol   string `yaml:"token_symbol"`
	TokenDecimals uint8  `yaml:"token_decimals"`
	Description   string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// Network resolves a named chain definition, falling back to the built-in
// Celo Sepolia parameters for any field left unset.
func (d ChainDefinitions) Network(name string) Network {
	network := CeloSepolia()
	def, ok := d.Chains[name]
	if !ok {
		return network
	}
	network.Name = name
	if def.ChainID != 0 {
		network.ChainID = def.ChainID
	}
	if strings.TrimSpace(def.RPCURL) != "" {
		network.RPCURL = def.RPCURL
	}
	if common.IsHexAddress(def.Token) {
		network.Token = common.HexToAddress(def.Token)
	}
	if def.TokenSymbol != "" {
		network.TokenSymbol = def.TokenSymbol
	}
	if def.TokenDecimals != 0 {
		network.TokenDecimals = def.TokenDecimals
	}
	return network
}
