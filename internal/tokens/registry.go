// Package tokens resolves token metadata used to scale raw reserves.
package tokens

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Token describes one token contract.
type Token struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name,omitempty"`
	Decimals uint32 `yaml:"decimals"`
}

type registryFile struct {
	Tokens []Token `yaml:"tokens"`
}

// Registry maps token addresses to metadata. Tokens missing from the
// registry use the default decimals.
type Registry struct {
	mu              sync.RWMutex
	tokens          map[string]Token
	defaultDecimals uint32
	logger          zerolog.Logger
}

func NewRegistry(defaultDecimals uint32, logger zerolog.Logger) *Registry {
	return &Registry{
		tokens:          make(map[string]Token),
		defaultDecimals: defaultDecimals,
		logger:          logger.With().Str("component", "token_registry").Logger(),
	}
}

// LoadFile reads a YAML registry of the form
//
//	tokens:
//	  - address: CAS3J7GYLGXMF6TDJBBYYSE3HQ6BBSMLNUQ34T6TZMYMW2EVH34XOWMA
//	    symbol: XLM
//	    decimals: 7
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read token registry %s: %w", path, err)
	}
	if err := r.Parse(data); err != nil {
		return fmt.Errorf("token registry %s: %w", path, err)
	}
	return nil
}

func (r *Registry) Parse(data []byte) error {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML registry: %w", err)
	}

	parsed := make(map[string]Token, len(file.Tokens))
	for i, t := range file.Tokens {
		if t.Address == "" {
			return fmt.Errorf("token %d: missing address", i)
		}
		if t.Decimals > 38 {
			return fmt.Errorf("token %s: decimals %d out of range", t.Address, t.Decimals)
		}
		if _, dup := parsed[t.Address]; dup {
			return fmt.Errorf("token %s: listed twice", t.Address)
		}
		parsed[t.Address] = t
	}

	r.mu.Lock()
	for addr, t := range parsed {
		r.tokens[addr] = t
	}
	r.mu.Unlock()

	r.logger.Info().Int("tokens", len(parsed)).Msg("Loaded token registry")
	return nil
}

// Decimals returns the token's decimals, or the default when unknown.
func (r *Registry) Decimals(address string) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tokens[address]; ok {
		return t.Decimals
	}
	return r.defaultDecimals
}

func (r *Registry) Lookup(address string) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[address]
	return t, ok
}
