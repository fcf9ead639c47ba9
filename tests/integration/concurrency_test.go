package integration

import (
	"net/http"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentFunds hits the fund endpoint from many goroutines and
// verifies no credit is lost: the unit-of-work transaction plus version
// checking must serialize the balance updates.
func TestConcurrentFunds(t *testing.T) {
	app := newTestApp(t)

	const workers = 20

	var wg sync.WaitGroup
	statuses := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _ := app.post(t, "/api/v1/wallets/42/fund", map[string]any{
				"currency": "USD", "amount": "10.00",
			})
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for _, status := range statuses {
		assert.Equal(t, http.StatusCreated, status)
	}

	_, body := app.get(t, "/api/v1/wallets/42/balances")
	balances := data(t, body)["balances"].(map[string]any)
	amountEq(t, "200.00", balances["USD"])

	_, body = app.get(t, "/api/v1/wallets/42/transactions")
	require.Len(t, data(t, body)["items"].([]any), workers)
}

// TestConcurrentMixedOperations runs funds and withdrawals against one
// wallet in parallel and verifies the final balance matches the set of
// operations that reported success.
func TestConcurrentMixedOperations(t *testing.T) {
	app := newTestApp(t)

	resp, _ := app.post(t, "/api/v1/wallets/5/fund", map[string]any{
		"currency": "USD", "amount": "100.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	const pairs = 10

	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			app.post(t, "/api/v1/wallets/5/fund", map[string]any{
				"currency": "USD", "amount": "5.00",
			})
		}()
		go func() {
			defer wg.Done()
			app.post(t, "/api/v1/wallets/5/withdraw", map[string]any{
				"currency": "USD", "amount": "5.00",
			})
		}()
	}
	wg.Wait()

	// Every fund succeeds; withdrawals may hit an insufficient balance,
	// but each success moved exactly 5.00, so the balance reconciles
	// against the transaction log.
	_, body := app.get(t, "/api/v1/wallets/5/transactions")
	items := data(t, body)["items"].([]any)

	funds, withdrawals := 0, 0
	for _, raw := range items {
		switch raw.(map[string]any)["type"] {
		case "fund":
			funds++
		case "withdraw":
			withdrawals++
		}
	}
	assert.Equal(t, pairs+1, funds)

	step := decimal.RequireFromString("5.00")
	expected := decimal.RequireFromString("100.00").
		Add(step.Mul(decimal.NewFromInt(int64(funds - 1)))).
		Sub(step.Mul(decimal.NewFromInt(int64(withdrawals))))

	_, body = app.get(t, "/api/v1/wallets/5/balances")
	balances := data(t, body)["balances"].(map[string]any)
	amountEq(t, expected.StringFixed(2), balances["USD"])
}
