package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kode4food/marionette/internal/client"
	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

type backoffCalculator func(baseDelayMs int64, retryCount int) int64

var backoffCalculators = map[string]backoffCalculator{
	api.BackoffTypeFixed: func(base int64, _ int) int64 {
		return base
	},
	api.BackoffTypeLinear: func(base int64, count int) int64 {
		return base * int64(count+1)
	},
	api.BackoffTypeExponential: func(base int64, count int) int64 {
		multiplier := math.Pow(2, float64(count))
		return int64(float64(base) * multiplier)
	},
}

// webhookOutcome is what a webhook node leaves behind as its output
type webhookOutcome struct {
	Body     any    `json:"body,omitempty"`
	Error    string `json:"error,omitempty"`
	Status   int    `json:"status"`
	Attempts int    `json:"attempts"`
}

// sendWebhook delivers vars to the configured endpoint. Transport errors
// and 5xx responses are retried up to cfg.Retries extra times; any final
// status is reported rather than treated as a failure
func (x *Execution) sendWebhook(
	ctx context.Context, node *api.Node, cfg *api.WebhookConfig,
	vars api.Vars, logf func(string, ...any),
) (*webhookOutcome, error) {
	method := cfg.HTTPMethod()
	out := &webhookOutcome{}
	var lastErr error

	for attempt := range cfg.Retries + 1 {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt-1)
			logf("Retrying webhook in %s (attempt %d of %d)",
				delay, attempt+1, cfg.Retries+1)
			if err := x.sleep(ctx, delay); err != nil {
				return out, err
			}
		}

		out.Attempts = attempt + 1
		resp, err := client.SendJSON(ctx, x.deps.Client, method, cfg.URL, vars)
		if err != nil {
			lastErr = err
			logf("Webhook %s %s failed: %v", method, cfg.URL, err)
			continue
		}

		out.Status = resp.Status
		out.Body = resp.Body
		out.Error = ""
		logf("Webhook %s %s -> %d", method, cfg.URL, resp.Status)
		if resp.Status < 500 {
			if !resp.OK() {
				slog.Warn("Webhook returned non-success status",
					log.RunID(x.run.ID),
					log.NodeID(node.ID),
					slog.Int("status_code", resp.Status))
			}
			return out, nil
		}
		lastErr = nil
	}

	if lastErr != nil {
		out.Error = lastErr.Error()
		slog.Warn("Webhook delivery failed",
			log.RunID(x.run.ID),
			log.NodeID(node.ID),
			slog.Int("attempts", out.Attempts),
			log.Error(lastErr))
		return out, fmt.Errorf("%w: webhook %s: %w",
			ErrNodeFailed, cfg.URL, lastErr)
	}
	return out, nil
}

func backoffDelay(cfg *api.WebhookConfig, retry int) time.Duration {
	calc, ok := backoffCalculators[cfg.BackoffType]
	if !ok {
		calc = backoffCalculators[api.BackoffTypeExponential]
	}
	base := cfg.BackoffMs
	if base <= 0 {
		base = api.DefaultWebhookBackoffMs
	}
	return time.Duration(calc(base, retry)) * time.Millisecond
}
