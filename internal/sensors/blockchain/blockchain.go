// Package blockchain implements a sample source that dials one or more
// Ethereum-compatible JSON-RPC endpoints via go-ethereum's ethclient and
// derives block_time_seconds from consecutive block headers, grounded on
// original_source/src/sensors/blockchain_sensor.py's per-network block
// interval tracking — re-expressed with a real chain client (ethclient)
// instead of a block-explorer REST API, per SPEC_FULL §3's domain-stack
// wiring for github.com/ethereum/go-ethereum.
package blockchain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/amois3/matrixwatcher/internal/sensor"
)

// Network is one monitored chain: a name (used as the "networks" map key
// C8's blockchainAnomalyCheck reads) and its JSON-RPC endpoint.
type Network struct {
	Name              string
	RPCURL            string
	ExpectedBlockTime float64 // seconds
}

// Source polls HeaderByNumber(nil) (latest) on each configured network and
// derives block_time_seconds from the delta against the previous poll's
// block timestamp, matching the shape C8's blockchainAnomalyCheck expects:
// data["networks"][name] = {block_time_seconds, expected_block_time}.
type Source struct {
	cfg      sensor.Config
	networks []Network
	clients  map[string]*ethclient.Client
	last     map[string]lastBlock
}

type lastBlock struct {
	number uint64
	time   uint64
}

// New dials every configured network's RPC endpoint up front; a network
// that fails to dial is skipped (and retried lazily on Collect), so one
// bad endpoint does not prevent collecting from the others.
func New(cfg sensor.Config, networks []Network) *Source {
	s := &Source{
		cfg:      cfg,
		networks: networks,
		clients:  map[string]*ethclient.Client{},
		last:     map[string]lastBlock{},
	}
	for _, n := range networks {
		if client, err := ethclient.Dial(n.RPCURL); err == nil {
			s.clients[n.Name] = client
		}
	}
	return s
}

func (s *Source) Name() string          { return "blockchain" }
func (s *Source) Config() sensor.Config { return s.cfg }

func (s *Source) Schema() map[string]sensor.FieldType {
	return map[string]sensor.FieldType{"networks": sensor.FieldNested}
}

func (s *Source) Collect(ctx context.Context) (sensor.Reading, error) {
	networksOut := map[string]any{}
	var lastErr error
	ok := 0

	for _, n := range s.networks {
		client, have := s.clients[n.Name]
		if !have {
			client, err := ethclient.DialContext(ctx, n.RPCURL)
			if err != nil {
				lastErr = fmt.Errorf("blockchain: dial %s: %w", n.Name, err)
				continue
			}
			s.clients[n.Name] = client
		}
		client = s.clients[n.Name]

		header, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			lastErr = fmt.Errorf("blockchain: header for %s: %w", n.Name, err)
			continue
		}

		number := header.Number.Uint64()
		blockTime := n.ExpectedBlockTime
		if prev, seen := s.last[n.Name]; seen && number > prev.number {
			blockTime = float64(header.Time-prev.time) / float64(number-prev.number)
		}
		s.last[n.Name] = lastBlock{number: number, time: header.Time}

		networksOut[n.Name] = map[string]any{
			"block_height":        number,
			"block_time_seconds":  blockTime,
			"expected_block_time": n.ExpectedBlockTime,
		}
		ok++
	}

	if ok == 0 {
		return sensor.Reading{}, &sensor.TransientError{Err: lastErr}
	}

	return sensor.Reading{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Source:    s.Name(),
		Data:      map[string]any{"networks": networksOut},
	}, nil
}
