package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Runtime holds the parsed duration knobs of a Config.
type Runtime struct {
	CheckpointInterval time.Duration
	AdapterTimeout     time.Duration
	OracleMaxAge       time.Duration
	OracleCacheTTL     time.Duration
	YieldMinBackoff    time.Duration
	YieldMaxBackoff    time.Duration
	YieldTimeout       time.Duration
	ReadHeaderTimeout  time.Duration
}

var feedKinds = map[string]bool{"manual": true, "coingecko": true, "chainlink": true}

// Runtime parses every duration field.
func (c *Config) Runtime() (Runtime, error) {
	var (
		rt   Runtime
		errs []error
	)
	parse := func(field, raw string, dst *time.Duration, allowZero bool) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			if !allowZero {
				errs = append(errs, fmt.Errorf("%s: duration required", field))
			}
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		if d < 0 || (d == 0 && !allowZero) {
			errs = append(errs, fmt.Errorf("%s: must be positive", field))
			return
		}
		*dst = d
	}
	parse("CheckpointInterval", c.CheckpointInterval, &rt.CheckpointInterval, false)
	parse("AdapterTimeout", c.AdapterTimeout, &rt.AdapterTimeout, false)
	parse("oracle.MaxAge", c.Oracle.MaxAge, &rt.OracleMaxAge, false)
	parse("oracle.CacheTTL", c.Oracle.CacheTTL, &rt.OracleCacheTTL, true)
	parse("yield.MinBackoff", c.Yield.MinBackoff, &rt.YieldMinBackoff, true)
	parse("yield.MaxBackoff", c.Yield.MaxBackoff, &rt.YieldMaxBackoff, true)
	parse("yield.RequestTimeout", c.Yield.RequestTimeout, &rt.YieldTimeout, true)
	parse("api.ReadHeaderTimeout", c.API.ReadHeaderTimeout, &rt.ReadHeaderTimeout, true)
	return rt, errors.Join(errs...)
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	rt, err := c.Runtime()
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir required")
	}
	if rt.OracleCacheTTL > rt.OracleMaxAge {
		return fmt.Errorf("oracle: CacheTTL %s exceeds MaxAge %s", rt.OracleCacheTTL, rt.OracleMaxAge)
	}
	if rt.YieldMinBackoff > rt.YieldMaxBackoff && rt.YieldMaxBackoff > 0 {
		return fmt.Errorf("yield: MinBackoff exceeds MaxBackoff")
	}
	if strings.TrimSpace(c.Oracle.FeedID) == "" {
		return fmt.Errorf("oracle: FeedID required")
	}
	if !feedKinds[strings.ToLower(c.Oracle.Primary)] {
		return fmt.Errorf("oracle: unknown primary feed %q", c.Oracle.Primary)
	}
	if c.Oracle.Backup != "" && !feedKinds[strings.ToLower(c.Oracle.Backup)] {
		return fmt.Errorf("oracle: unknown backup feed %q", c.Oracle.Backup)
	}
	for _, kind := range []string{c.Oracle.Primary, c.Oracle.Backup} {
		switch strings.ToLower(kind) {
		case "chainlink":
			if c.Oracle.ChainlinkRPC == "" || len(c.Oracle.ChainlinkContracts) == 0 {
				return fmt.Errorf("oracle: chainlink feed needs ChainlinkRPC and ChainlinkContracts")
			}
		case "coingecko":
			if c.Oracle.CoinGeckoEndpoint == "" {
				return fmt.Errorf("oracle: coingecko feed needs CoinGeckoEndpoint")
			}
		case "manual":
			if c.Oracle.ManualPrice == "" {
				return fmt.Errorf("oracle: manual feed needs ManualPrice")
			}
		}
	}
	if c.Yield.MaxAttempts < 0 {
		return fmt.Errorf("yield: MaxAttempts must not be negative")
	}
	if c.API.RateLimitPerSec < 0 || c.API.RateLimitBurst < 0 {
		return fmt.Errorf("api: rate limits must not be negative")
	}
	switch strings.ToLower(c.Journal.Driver) {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Journal.DSN) == "" {
			return fmt.Errorf("journal: DSN required for %s", c.Journal.Driver)
		}
	default:
		return fmt.Errorf("journal: unknown driver %q", c.Journal.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	if (c.FeeConverter.Endpoint == "") != (c.FeeConverter.Account == "") {
		return fmt.Errorf("fee_converter: Endpoint and Account must be set together")
	}
	if c.Webhook.Endpoint != "" && strings.TrimSpace(c.Webhook.SecretEnv) == "" {
		return fmt.Errorf("webhook: SecretEnv required when Endpoint is set")
	}
	return nil
}
