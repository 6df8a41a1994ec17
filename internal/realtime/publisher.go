// Package realtime pushes committed pair state to a Centrifugo server.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/centrifugal/gocent/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
	"github.com/nunalabs/astro-swap-sub000/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const batchChannel = "astroswap.pairs"

// PairChannel is the per-pair channel name.
func PairChannel(address string) string {
	return "astroswap.pair." + address
}

// PairReader loads the current pair rows to publish.
type PairReader interface {
	GetPairs(ctx context.Context, addresses []string) ([]database.Pair, error)
}

type centrifugo interface {
	Publish(ctx context.Context, channel string, data []byte, opts ...gocent.PublishOption) (gocent.PublishResult, error)
}

type Config struct {
	Addr          string
	Key           string
	FlushInterval time.Duration
}

// Publisher collects pairs touched by committed events and publishes their
// state on a timer. Repeated updates of one pair between flushes collapse
// into one message.
type Publisher struct {
	client   centrifugo
	pairs    PairReader
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	flushCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPublisher(cfg Config, pairs PairReader, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	client := gocent.New(gocent.Config{
		Addr: cfg.Addr,
		Key:  cfg.Key,
	})
	return newPublisher(client, cfg.FlushInterval, pairs, m, logger)
}

func newPublisher(client centrifugo, interval time.Duration, pairs PairReader, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		client:   client,
		pairs:    pairs,
		interval: interval,
		metrics:  m,
		logger:   logger.With().Str("component", "realtime-publisher").Logger(),
		pending:  make(map[string]struct{}),
		flushCh:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.startFlusher()
	return p
}

func (p *Publisher) startFlusher() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.flush(p.ctx)
			case <-p.flushCh:
				p.flush(p.ctx)
			}
		}
	}()
}

// PairUpdated queues address for the next flush.
func (p *Publisher) PairUpdated(address string) {
	p.mu.Lock()
	p.pending[address] = struct{}{}
	p.mu.Unlock()
}

// Flush publishes the queued pairs now.
func (p *Publisher) Flush() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

type pairMessage struct {
	Address        string `json:"address"`
	Token0         string `json:"token0"`
	Token1         string `json:"token1"`
	Reserve0       string `json:"reserve0"`
	Reserve1       string `json:"reserve1"`
	TotalSupply    string `json:"total_supply"`
	LastSyncLedger uint32 `json:"last_sync_ledger"`
}

type envelope struct {
	Type  string        `json:"type"`
	TS    int64         `json:"ts"`
	Pair  *pairMessage  `json:"pair,omitempty"`
	Items []pairMessage `json:"items,omitempty"`
}

func (p *Publisher) takePending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	addrs := make([]string, 0, len(p.pending))
	for addr := range p.pending {
		addrs = append(addrs, addr)
	}
	p.pending = make(map[string]struct{})
	sort.Strings(addrs)
	return addrs
}

func (p *Publisher) flush(ctx context.Context) {
	addrs := p.takePending()
	if len(addrs) == 0 {
		return
	}

	pairs, err := p.pairs.GetPairs(ctx, addrs)
	if err != nil {
		p.logger.Error().Err(err).Int("count", len(addrs)).Msg("Failed to load pairs for publishing")
		return
	}
	if len(pairs) == 0 {
		return
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Address < pairs[j].Address })

	ts := time.Now().UTC().Unix()
	items := make([]pairMessage, 0, len(pairs))
	for _, pair := range pairs {
		msg := toMessage(pair)
		items = append(items, msg)
		p.publish(ctx, PairChannel(pair.Address), envelope{Type: "pair.update", TS: ts, Pair: &msg})
	}
	p.publish(ctx, batchChannel, envelope{Type: "pair.batch", TS: ts, Items: items})

	p.logger.Debug().Int("count", len(items)).Msg("Published pair updates")
}

func (p *Publisher) publish(ctx context.Context, channel string, msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to marshal payload")
		return
	}
	if _, err := p.client.Publish(ctx, channel, data); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.Published.WithLabelValues("error").Inc()
		p.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to publish")
		return
	}
	p.metrics.Published.WithLabelValues("ok").Inc()
}

func toMessage(pair database.Pair) pairMessage {
	return pairMessage{
		Address:        pair.Address,
		Token0:         pair.Token0,
		Token1:         pair.Token1,
		Reserve0:       database.BigIntToNumeric(pair.Reserve0),
		Reserve1:       database.BigIntToNumeric(pair.Reserve1),
		TotalSupply:    database.BigIntToNumeric(pair.TotalSupply),
		LastSyncLedger: pair.LastSyncLedger,
	}
}

// Close stops the flusher after publishing whatever is still queued.
func (p *Publisher) Close() error {
	p.logger.Info().Msg("Closing publisher")
	p.cancel()
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.flush(ctx)
	return nil
}
