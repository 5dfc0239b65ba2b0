package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"reflexstake/config"
	"reflexstake/native/oracle"
)

// priceFeeds owns the feed clients built from the oracle section so the daemon
// can release them on shutdown.
type priceFeeds struct {
	adapter *oracle.Adapter
	eth     *ethclient.Client
}

func (p *priceFeeds) Close() {
	if p.eth != nil {
		p.eth.Close()
	}
}

func buildPriceFeeds(cfg *config.Config, rt config.Runtime, logger *slog.Logger) (*priceFeeds, error) {
	out := &priceFeeds{}
	build := func(kind string) (oracle.Feed, error) {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "":
			return nil, nil
		case "manual":
			feed := oracle.NewManualFeed()
			if err := feed.SetDecimal(cfg.Oracle.FeedID, cfg.Oracle.ManualPrice, cfg.Oracle.ManualDecimals, time.Now()); err != nil {
				return nil, fmt.Errorf("manual feed: %w", err)
			}
			return manualRefresher{feed: feed, cfg: cfg.Oracle}, nil
		case "coingecko":
			apiKey := ""
			if cfg.Oracle.CoinGeckoAPIKeyEnv != "" {
				apiKey = os.Getenv(cfg.Oracle.CoinGeckoAPIKeyEnv)
			}
			client := &http.Client{Timeout: rt.AdapterTimeout}
			return oracle.NewCoinGeckoFeed(client, cfg.Oracle.CoinGeckoEndpoint, apiKey, cfg.Oracle.CoinGeckoIDs), nil
		case "chainlink":
			if out.eth == nil {
				client, err := ethclient.Dial(cfg.Oracle.ChainlinkRPC)
				if err != nil {
					return nil, fmt.Errorf("chainlink rpc: %w", err)
				}
				out.eth = client
			}
			return oracle.NewChainlinkFeed(out.eth, cfg.Oracle.ChainlinkContracts)
		default:
			return nil, fmt.Errorf("unknown feed kind %q", kind)
		}
	}
	primary, err := build(cfg.Oracle.Primary)
	if err != nil {
		out.Close()
		return nil, err
	}
	backup, err := build(cfg.Oracle.Backup)
	if err != nil {
		out.Close()
		return nil, err
	}
	adapter, err := oracle.NewAdapter(oracle.Config{
		FeedID:   cfg.Oracle.FeedID,
		MaxAge:   rt.OracleMaxAge,
		CacheTTL: rt.OracleCacheTTL,
	}, primary, backup)
	if err != nil {
		out.Close()
		return nil, err
	}
	adapter.SetLogger(logger)
	out.adapter = adapter
	return out, nil
}

// manualRefresher re-stamps the configured manual price on every read so an
// operator-pinned price never ages out of the adapter's freshness window.
type manualRefresher struct {
	feed *oracle.ManualFeed
	cfg  config.Oracle
}

func (m manualRefresher) GetPrice(ctx context.Context, feedID string) (oracle.Price, error) {
	if err := m.feed.SetDecimal(m.cfg.FeedID, m.cfg.ManualPrice, m.cfg.ManualDecimals, time.Now()); err != nil {
		return oracle.Price{}, err
	}
	return m.feed.GetPrice(ctx, feedID)
}
