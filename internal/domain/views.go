package domain

import "github.com/shopspring/decimal"

// ProductSummary карточка товара в позиции заказа; у удалённого товара все поля пустые
type ProductSummary struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl"`
	Description string          `json:"description"`
}

type OrderItemView struct {
	OrderItem
	Product ProductSummary `json:"product"`
}

// OrderView заказ для ответа API: позиции дополнены карточками товаров.
// Items перекрывает Order.Items при сериализации.
type OrderView struct {
	Order
	Items []OrderItemView `json:"items"`
}
