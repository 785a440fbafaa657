package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"feeindex/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	nsFee    = "fee"
	nsRate   = "rate"
	nsBlock  = "block"
	nsCursor = "cursor"
	nsTask   = "task"
)

// WriteOnceKey reports whether key belongs to a namespace whose values never
// change once written: fees, rates and block lookups. Task and cursor keys
// are rewritten and must always be read from the shared store.
func WriteOnceKey(key string) bool {
	namespace, _, ok := strings.Cut(key, ":")
	return ok && (namespace == nsFee || namespace == nsRate || namespace == nsBlock)
}

func feeKey(txHash string) string {
	return nsFee + ":" + strings.ToLower(txHash)
}

func rateKey(base, quote string, ts int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", nsRate, base, quote, ts)
}

func blockKey(ts int64) string {
	return nsBlock + ":" + strconv.FormatInt(ts, 10)
}

func cursorKey(pool string, action domain.ActionType) string {
	return fmt.Sprintf("%s:%s:%s", nsCursor, strings.ToLower(pool), action)
}

func taskKey(id string) string {
	return nsTask + ":" + id
}

// cacheGet treats store failures as a miss.
func cacheGet(ctx context.Context, cache Cache, observer Observer, namespace, key string) (string, bool) {
	value, ok, err := cache.Get(ctx, key)
	if err != nil {
		slog.Warn("cache get failed", "key", key, "err", err)
		ok = false
	}
	observer.OnCacheLookup(namespace, ok)
	return value, ok
}

// cacheSet is best-effort; rewriting a key with the same value is harmless.
func cacheSet(ctx context.Context, cache Cache, key, value string) {
	if err := cache.Set(ctx, key, value); err != nil {
		slog.Warn("cache set failed", "key", key, "err", err)
	}
}

// parseCachedDecimal accepts both plain and JSON-quoted decimal strings.
func parseCachedDecimal(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.Trim(strings.TrimSpace(raw), `"`))
}

func cachedFee(ctx context.Context, cache Cache, observer Observer, txHash string) (domain.Fee, bool) {
	raw, ok := cacheGet(ctx, cache, observer, nsFee, feeKey(txHash))
	if !ok {
		return domain.Fee{}, false
	}
	amount, err := parseCachedDecimal(raw)
	if err != nil {
		slog.Warn("discarding malformed cached fee", "tx_hash", txHash, "value", raw, "err", err)
		return domain.Fee{}, false
	}
	return domain.Fee{TxHash: txHash, Amount: amount, Status: domain.RateOK}, true
}

func storeFee(ctx context.Context, cache Cache, fee domain.Fee) {
	if !fee.Priced() {
		return
	}
	cacheSet(ctx, cache, feeKey(fee.TxHash), fee.Amount.String())
}
