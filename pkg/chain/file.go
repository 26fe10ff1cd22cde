package chain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"chainswap/pkg/types"
)

// CatalogFile is the YAML layout accepted by LoadFile
type CatalogFile struct {
	Chains []ChainConfig            `yaml:"chains"`
	Tokens map[uint64][]types.Token `yaml:"tokens"`
}

// LoadFile builds a registry from a YAML catalog file
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML catalog bytes
func Parse(data []byte) (*Registry, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain catalog: %w", err)
	}
	if len(file.Chains) == 0 {
		return nil, fmt.Errorf("chain catalog lists no chains")
	}

	for i := range file.Chains {
		if file.Chains[i].NativeDecimals == 0 {
			file.Chains[i].NativeDecimals = 18
		}
		if len(file.Chains[i].Features) == 0 {
			file.Chains[i].Features = []Feature{FeatureSwap}
		}
	}

	r, err := NewRegistry(file.Chains...)
	if err != nil {
		return nil, err
	}
	for id, list := range file.Tokens {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("tokens listed for unknown chain %d", id)
		}
		if r.tokens == nil {
			r.tokens = make(map[uint64][]types.Token, len(file.Tokens))
		}
		r.tokens[id] = append([]types.Token(nil), list...)
	}
	return r, nil
}
