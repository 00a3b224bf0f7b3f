package service

import (
	"context"

	"github.com/pkg/errors"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// orderViews подставляет текущие карточки товаров. Удалённый товар даёт
// пустую карточку; цена позиции остаётся зафиксированной в заказе.
func orderViews(ctx context.Context, products repository.ProductRepository, orders []domain.Order) ([]domain.OrderView, error) {
	summaries := make(map[string]domain.ProductSummary)
	out := make([]domain.OrderView, 0, len(orders))
	for _, o := range orders {
		v := domain.OrderView{Order: o, Items: make([]domain.OrderItemView, 0, len(o.Items))}
		for _, it := range o.Items {
			ps, ok := summaries[it.ProductID]
			if !ok {
				p, err := products.GetByID(ctx, it.ProductID)
				switch {
				case err == nil:
					ps = domain.ProductSummary{
						ID:          p.ID,
						Name:        p.Name,
						Price:       p.Price,
						ImageURL:    p.ImageURL,
						Description: p.Description,
					}
				case !errors.Is(err, domain.ErrNotFound):
					return nil, err
				}
				summaries[it.ProductID] = ps
			}
			v.Items = append(v.Items, domain.OrderItemView{OrderItem: it, Product: ps})
		}
		out = append(out, v)
	}
	return out, nil
}

func orderView(ctx context.Context, products repository.ProductRepository, o *domain.Order) (*domain.OrderView, error) {
	views, err := orderViews(ctx, products, []domain.Order{*o})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}
