package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	stockAvailableKeyPrefix   = "stock:available:"
	stockReservedKeyPrefix    = "stock:reserved:"
	reservationItemsKeyPrefix = "reservation:items:"
	reservationMetaKeyPrefix  = "reservation:meta:"
)

// Коды результата reserve-скрипта.
const (
	reserveOK           = 0
	reserveDuplicate    = 1
	reserveUnknownSKU   = 2
	reserveInsufficient = 3
)

// reserveScript атомарно удерживает сток под весь набор позиций заказа.
// Сначала проверяет все SKU, потом мутирует счётчики: частичных резервов
// не бывает даже при конкурентных вызовах.
//
// KEYS: [meta, items, avail_1..avail_n, resv_1..resv_n]
// ARGV: [n, sku_1..sku_n, qty_1..qty_n, now]
var reserveScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local meta_key = KEYS[1]
local items_key = KEYS[2]

if redis.call('EXISTS', meta_key) == 1 then
	return {1}
end

for i = 1, n do
	local avail_key = KEYS[2 + i]
	local qty = tonumber(ARGV[1 + n + i])
	local current = redis.call('GET', avail_key)
	if not current then
		return {2, ARGV[1 + i]}
	end
	if tonumber(current) < qty then
		return {3, ARGV[1 + i], current}
	end
end

for i = 1, n do
	local avail_key = KEYS[2 + i]
	local resv_key = KEYS[2 + n + i]
	local sku = ARGV[1 + i]
	local qty = tonumber(ARGV[1 + n + i])
	redis.call('DECRBY', avail_key, qty)
	redis.call('INCRBY', resv_key, qty)
	redis.call('HSET', items_key, sku, qty)
end
redis.call('HSET', meta_key, 'state', 'held', 'created_at', ARGV[2 + 2 * n], 'updated_at', ARGV[2 + 2 * n])
return {0}
`)

// settleScript переводит held-резерв в released или consumed. Перепроверяет
// состояние внутри скрипта, поэтому повторный вызов — no-op.
//
// KEYS: [meta, items, resv_1..resv_n, avail_1..avail_n]
// ARGV: [n, target, now, sku_1..sku_n]
var settleScript = redis.NewScript(`
local meta_key = KEYS[1]
local items_key = KEYS[2]
local n = tonumber(ARGV[1])
local target = ARGV[2]
local now = ARGV[3]

local state = redis.call('HGET', meta_key, 'state')
if state ~= 'held' then
	return 0
end

for i = 1, n do
	local resv_key = KEYS[2 + i]
	local avail_key = KEYS[2 + n + i]
	local sku = ARGV[3 + i]
	local qty = tonumber(redis.call('HGET', items_key, sku))
	redis.call('DECRBY', resv_key, qty)
	if target == 'released' then
		redis.call('INCRBY', avail_key, qty)
	end
end
redis.call('HSET', meta_key, 'state', target, 'updated_at', now)
return 1
`)

// stockLedgerRedis — реализация StockLedger поверх Redis для конфигураций
// с несколькими инстансами сервиса: атомарность решений по стоку
// обеспечивают Lua-скрипты.
type stockLedgerRedis struct {
	client *redis.Client
}

// NewStockLedger создаёт StockLedger поверх переданного клиента Redis.
func NewStockLedger(client *redis.Client) domain.StockLedger {
	return &stockLedgerRedis{client: client}
}

// Reserve атомарно удерживает сток под все позиции заказа (всё-или-ничего).
func (l *stockLedgerRedis) Reserve(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}
	if len(items) == 0 {
		return domain.ErrItemsRequired
	}

	qtyBySKU := make(map[string]int32, len(items))
	for _, item := range items {
		if item.SKU == "" {
			return domain.ErrSKURequired
		}
		if item.Qty <= 0 {
			return domain.ErrItemQtyInvalid
		}
		qtyBySKU[item.SKU] += item.Qty
	}

	skus := make([]string, 0, len(qtyBySKU))
	for sku := range qtyBySKU {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	keys := make([]string, 0, 2+2*len(skus))
	keys = append(keys, reservationMetaKeyPrefix+orderID, reservationItemsKeyPrefix+orderID)
	for _, sku := range skus {
		keys = append(keys, stockAvailableKeyPrefix+sku)
	}
	for _, sku := range skus {
		keys = append(keys, stockReservedKeyPrefix+sku)
	}

	argv := make([]interface{}, 0, 2+2*len(skus))
	argv = append(argv, len(skus))
	for _, sku := range skus {
		argv = append(argv, sku)
	}
	for _, sku := range skus {
		argv = append(argv, qtyBySKU[sku])
	}
	argv = append(argv, time.Now().UTC().Format(time.RFC3339Nano))

	raw, err := reserveScript.Run(ctx, l.client, keys, argv...).Slice()
	if err != nil {
		return fmt.Errorf("reserve script: %w", err)
	}
	return l.decodeReserveResult(raw, qtyBySKU)
}

func (l *stockLedgerRedis) decodeReserveResult(raw []interface{}, qtyBySKU map[string]int32) error {
	if len(raw) == 0 {
		return fmt.Errorf("reserve script: empty reply")
	}

	code, ok := raw[0].(int64)
	if !ok {
		return fmt.Errorf("reserve script: unexpected reply %v", raw)
	}

	switch code {
	case reserveOK, reserveDuplicate:
		return nil
	case reserveUnknownSKU:
		return domain.ErrUnknownSKU
	case reserveInsufficient:
		sku, _ := raw[1].(string)
		availableRaw, _ := raw[2].(string)
		available, _ := strconv.ParseInt(availableRaw, 10, 64)
		return &domain.InsufficientStockError{
			SKU:       sku,
			Requested: qtyBySKU[sku],
			Available: available,
		}
	default:
		return fmt.Errorf("reserve script: unexpected code %d", code)
	}
}

// Release возвращает held-резервы заказа в доступный сток. Идемпотентна.
func (l *stockLedgerRedis) Release(ctx context.Context, orderID string) error {
	return l.settle(ctx, orderID, domain.ReservationStateReleased)
}

// Consume окончательно списывает held-резервы заказа. Идемпотентна.
func (l *stockLedgerRedis) Consume(ctx context.Context, orderID string) error {
	return l.settle(ctx, orderID, domain.ReservationStateConsumed)
}

func (l *stockLedgerRedis) settle(ctx context.Context, orderID string, target domain.ReservationState) error {
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}

	items, err := l.client.HGetAll(ctx, reservationItemsKeyPrefix+orderID).Result()
	if err != nil {
		return fmt.Errorf("load reservation items: %w", err)
	}
	// Заказ без резервов: компенсировать нечего.
	if len(items) == 0 {
		return nil
	}

	skus := make([]string, 0, len(items))
	for sku := range items {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	keys := make([]string, 0, 2+2*len(skus))
	keys = append(keys, reservationMetaKeyPrefix+orderID, reservationItemsKeyPrefix+orderID)
	for _, sku := range skus {
		keys = append(keys, stockReservedKeyPrefix+sku)
	}
	for _, sku := range skus {
		keys = append(keys, stockAvailableKeyPrefix+sku)
	}

	argv := make([]interface{}, 0, 3+len(skus))
	argv = append(argv, len(skus), string(target), time.Now().UTC().Format(time.RFC3339Nano))
	for _, sku := range skus {
		argv = append(argv, sku)
	}

	if err := settleScript.Run(ctx, l.client, keys, argv...).Err(); err != nil {
		return fmt.Errorf("settle script: %w", err)
	}
	return nil
}

// SetStock задаёт доступное количество товара (внешняя поставка).
func (l *stockLedgerRedis) SetStock(ctx context.Context, sku string, available int64) error {
	if sku == "" {
		return domain.ErrSKURequired
	}

	pipe := l.client.TxPipeline()
	pipe.Set(ctx, stockAvailableKeyPrefix+sku, available, 0)
	pipe.SetNX(ctx, stockReservedKeyPrefix+sku, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set stock: %w", err)
	}
	return nil
}

// GetStock возвращает текущие счётчики по товару.
func (l *stockLedgerRedis) GetStock(ctx context.Context, sku string) (domain.StockLevel, error) {
	available, err := l.client.Get(ctx, stockAvailableKeyPrefix+sku).Int64()
	if err == redis.Nil {
		return domain.StockLevel{}, domain.ErrUnknownSKU
	}
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("get available: %w", err)
	}

	reserved, err := l.client.Get(ctx, stockReservedKeyPrefix+sku).Int64()
	if err != nil && err != redis.Nil {
		return domain.StockLevel{}, fmt.Errorf("get reserved: %w", err)
	}

	return domain.StockLevel{SKU: sku, Available: available, Reserved: reserved}, nil
}

// Reservations восстанавливает резервы заказа из ключей Redis.
// Идентификатор резерва детерминирован парой (order, sku).
func (l *stockLedgerRedis) Reservations(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	items, err := l.client.HGetAll(ctx, reservationItemsKeyPrefix+orderID).Result()
	if err != nil {
		return nil, fmt.Errorf("load reservation items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	meta, err := l.client.HGetAll(ctx, reservationMetaKeyPrefix+orderID).Result()
	if err != nil {
		return nil, fmt.Errorf("load reservation meta: %w", err)
	}

	state := domain.ReservationState(meta["state"])
	createdAt, _ := time.Parse(time.RFC3339Nano, meta["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, meta["updated_at"])

	skus := make([]string, 0, len(items))
	for sku := range items {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	result := make([]domain.Reservation, 0, len(skus))
	for _, sku := range skus {
		qty, err := strconv.ParseInt(items[sku], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse reservation qty for %s: %w", sku, err)
		}
		result = append(result, domain.Reservation{
			ID:        orderID + ":" + sku,
			OrderID:   orderID,
			SKU:       sku,
			Qty:       int32(qty),
			State:     state,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		})
	}
	return result, nil
}

var _ domain.StockLedger = (*stockLedgerRedis)(nil)
