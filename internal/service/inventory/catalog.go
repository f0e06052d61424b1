package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// StaticCatalog — каталог товаров с фиксированными ценами. Служит
// источником цен при создании заказа; доступность стока он не решает.
type StaticCatalog struct {
	mu     sync.RWMutex
	prices map[string]int64
}

// NewStaticCatalog создаёт каталог из карты SKU → цена в минорных единицах.
func NewStaticCatalog(prices map[string]int64) *StaticCatalog {
	copied := make(map[string]int64, len(prices))
	for sku, price := range prices {
		copied[sku] = price
	}
	return &StaticCatalog{prices: copied}
}

// Lookup возвращает данные товара или ErrUnknownSKU.
func (c *StaticCatalog) Lookup(_ context.Context, sku string) (domain.CatalogItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	price, ok := c.prices[sku]
	if !ok {
		return domain.CatalogItem{}, domain.ErrUnknownSKU
	}
	return domain.CatalogItem{SKU: sku, PriceMinor: price}, nil
}

// SKUs возвращает отсортированный список известных SKU.
func (c *StaticCatalog) SKUs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	skus := make([]string, 0, len(c.prices))
	for sku := range c.prices {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}

// SetPrice добавляет или обновляет позицию каталога.
func (c *StaticCatalog) SetPrice(sku string, priceMinor int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[sku] = priceMinor
}

var _ domain.CatalogService = (*StaticCatalog)(nil)
