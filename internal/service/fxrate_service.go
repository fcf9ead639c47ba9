package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Rate provider modes.
const (
	FXModeStatic = "static"
	FXModeRandom = "random"
	FXModeAPI    = "api"
)

var one = decimal.New(1, 0)

// rateSnapshot is one immutable view of the pair. Swapped atomically so
// readers never observe a half-updated rate.
type rateSnapshot struct {
	usdToMXN  decimal.Decimal
	mxnToUSD  decimal.Decimal
	updatedAt time.Time
}

// FXRateService implements ports.RateProvider. Static mode serves the
// configured rates unchanged. Random and api modes refresh on an interval
// in a background goroutine; a failed refresh keeps the previous rate.
type FXRateService struct {
	mode       string
	interval   time.Duration
	candidates []decimal.Decimal
	apiURL     string
	apiKey     string
	client     *http.Client
	log        zerolog.Logger

	snapshot atomic.Pointer[rateSnapshot]

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFXRateService creates the provider from configuration. A random or
// api mode with unusable settings degrades to static with a warning, so a
// bad rate feed never blocks wallet operations.
func NewFXRateService(cfg config.FXConfig, log zerolog.Logger) (*FXRateService, error) {
	usdToMXN, err := decimal.NewFromString(cfg.USDToMXN)
	if err != nil {
		return nil, fmt.Errorf("parse fx.usd_to_mxn %q: %w", cfg.USDToMXN, err)
	}
	mxnToUSD, err := decimal.NewFromString(cfg.MXNToUSD)
	if err != nil {
		return nil, fmt.Errorf("parse fx.mxn_to_usd %q: %w", cfg.MXNToUSD, err)
	}
	if !usdToMXN.IsPositive() || !mxnToUSD.IsPositive() {
		return nil, fmt.Errorf("fx rates must be positive, got %s / %s", cfg.USDToMXN, cfg.MXNToUSD)
	}

	s := &FXRateService{
		mode:     cfg.Mode,
		interval: cfg.UpdateInterval,
		apiURL:   cfg.APIURL,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.APITimeout},
		log:      log,
	}

	switch cfg.Mode {
	case FXModeStatic:
	case FXModeRandom:
		candidates, err := cfg.RandomCandidates()
		if err != nil || len(candidates) == 0 {
			log.Warn().Err(err).Str("values", cfg.RandomValues).
				Msg("unusable random rate candidates, falling back to static mode")
			s.mode = FXModeStatic
			break
		}
		for _, c := range candidates {
			if !c.IsPositive() {
				err = fmt.Errorf("candidate %s is not positive", c)
				break
			}
		}
		if err != nil {
			log.Warn().Err(err).Str("values", cfg.RandomValues).
				Msg("unusable random rate candidates, falling back to static mode")
			s.mode = FXModeStatic
			break
		}
		s.candidates = candidates
	case FXModeAPI:
		if cfg.APIURL == "" {
			log.Warn().Msg("fx.mode is api but fx.api_url is empty, falling back to static mode")
			s.mode = FXModeStatic
		}
	default:
		return nil, fmt.Errorf("unknown fx.mode %q", cfg.Mode)
	}

	if s.mode != FXModeStatic && s.interval <= 0 {
		log.Warn().Dur("interval", s.interval).
			Msg("non-positive fx refresh interval, falling back to static mode")
		s.mode = FXModeStatic
	}

	s.snapshot.Store(&rateSnapshot{
		usdToMXN:  usdToMXN,
		mxnToUSD:  mxnToUSD,
		updatedAt: time.Now().UTC(),
	})
	return s, nil
}

// CurrentRate returns the current rate for the pair. The caller must hold
// on to the returned value for the whole operation; a second call may see
// a newer snapshot.
func (s *FXRateService) CurrentRate(from, to domain.Currency) (decimal.Decimal, error) {
	snap := s.snapshot.Load()
	switch {
	case from == domain.CurrencyUSD && to == domain.CurrencyMXN:
		return snap.usdToMXN, nil
	case from == domain.CurrencyMXN && to == domain.CurrencyUSD:
		return snap.mxnToUSD, nil
	default:
		return decimal.Decimal{}, apperror.ErrUnsupportedPair(string(from), string(to))
	}
}

// Rates returns both directions of the pair from one snapshot.
func (s *FXRateService) Rates() ports.RateSnapshot {
	snap := s.snapshot.Load()
	return ports.RateSnapshot{
		USDToMXN:  snap.usdToMXN,
		MXNToUSD:  snap.mxnToUSD,
		Mode:      s.mode,
		UpdatedAt: snap.updatedAt,
	}
}

// Start launches the refresh loop. A no-op in static mode, when already
// started, or after Stop.
func (s *FXRateService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == FXModeStatic || s.started || s.stopped {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.refreshLoop(ctx)
}

// Stop cancels the refresh loop and waits for it to exit. Safe to call
// at any point, any number of times; only a running loop is stopped.
func (s *FXRateService) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *FXRateService) refreshLoop(ctx context.Context) {
	defer close(s.done)

	s.refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *FXRateService) refresh(ctx context.Context) {
	var (
		rate decimal.Decimal
		err  error
	)
	switch s.mode {
	case FXModeRandom:
		rate = s.candidates[rand.Intn(len(s.candidates))]
	case FXModeAPI:
		rate, err = s.fetchAPIRate(ctx)
	default:
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("fx rate refresh failed, keeping previous rate")
		return
	}

	s.snapshot.Store(&rateSnapshot{
		usdToMXN:  rate,
		mxnToUSD:  one.DivRound(rate, 4),
		updatedAt: time.Now().UTC(),
	})

	s.log.Debug().
		Str("usd_to_mxn", rate.String()).
		Str("mode", s.mode).
		Msg("fx rate updated")
}

func (s *FXRateService) fetchAPIRate(ctx context.Context) (decimal.Decimal, error) {
	reqURL := s.apiURL
	if s.apiKey != "" {
		u, err := url.Parse(s.apiURL)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("parse fx api url: %w", err)
		}
		q := u.Query()
		q.Set("access_key", s.apiKey)
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("build fx api request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("call fx api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("fx api returned status %d", resp.StatusCode)
	}

	var body struct {
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode fx api response: %w", err)
	}

	raw, ok := body.Rates[string(domain.CurrencyMXN)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("fx api response has no MXN rate")
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse fx api rate %q: %w", raw, err)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("fx api rate %s is not positive", rate)
	}
	return rate, nil
}
