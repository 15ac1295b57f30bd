package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/fluentvoice/usageledger/pkg/billing"
	"github.com/fluentvoice/usageledger/pkg/billing/internal"
	"github.com/fluentvoice/usageledger/pkg/ledger"
)

const (
	providerName             = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024
	planKeyWildcard          = "*"
)

// Config configures the Stripe billing provider
type Config struct {
	// Gateway receives the normalized plan changes (required)
	Gateway *billing.Gateway

	// WebhookSecret is the Stripe endpoint signing secret, whsec_... (required)
	WebhookSecret string

	// PlanMapping maps Stripe price IDs to plans, for example:
	//   map[string]ledger.Plan{"price_basic_monthly": ledger.PlanBasic}
	// The reserved key "*" maps any unlisted price to a fallback plan.
	PlanMapping map[string]ledger.Plan

	// PlanRanks orders plans so subscription updates can be classified as
	// upgrade or downgrade. If nil, the built-in free < basic < pro order
	// is used.
	PlanRanks map[ledger.Plan]int

	// RateLimit is the per-IP webhook request budget per minute
	// (default: 100)
	RateLimit int

	// Metrics is an optional metrics collector. If nil, a no-op is used.
	Metrics billing.Metrics
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	gateway       *billing.Gateway
	planMapping   map[string]ledger.Plan
	planRanks     map[ledger.Plan]int
	webhookSecret []byte
	rateLimiter   *internal.RateLimiter
	metrics       billing.Metrics
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Gateway == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	secret := strings.TrimSpace(config.WebhookSecret)
	if secret == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	if len(config.PlanMapping) == 0 {
		return nil, billing.ErrProviderNotConfigured
	}

	planMapping := make(map[string]ledger.Plan, len(config.PlanMapping))
	for k, v := range config.PlanMapping {
		planMapping[strings.ToLower(k)] = v
	}

	planRanks := config.PlanRanks
	if planRanks == nil {
		planRanks = map[ledger.Plan]int{
			ledger.PlanFree:  0,
			ledger.PlanBasic: 1,
			ledger.PlanPro:   2,
		}
	}

	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimitRequests
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		gateway:       config.Gateway,
		planMapping:   planMapping,
		planRanks:     planRanks,
		webhookSecret: []byte(secret),
		rateLimiter:   internal.NewRateLimiter(rateLimit, defaultRateLimitWindow),
		metrics:       metrics,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhook events,
// wrapped with per-IP rate limiting
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// planForPrice resolves a Stripe price ID to a plan, falling back to the
// wildcard mapping when configured
func (p *Provider) planForPrice(priceID string) (ledger.Plan, bool) {
	if plan, ok := p.planMapping[strings.ToLower(priceID)]; ok {
		return plan, true
	}
	if plan, ok := p.planMapping[planKeyWildcard]; ok {
		return plan, true
	}
	return "", false
}

// rank returns the ordering weight of a plan; unknown plans sort lowest
func (p *Provider) rank(plan ledger.Plan) int {
	if r, ok := p.planRanks[plan]; ok {
		return r
	}
	return -1
}
