package models

type ProductType string

const (
	ProductGame  ProductType = "GAME"
	ProductGoods ProductType = "GOODS"
)

type Product struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Price       int64       `json:"price"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Tag         string      `json:"tag,omitempty"`
	Seller      string      `json:"seller,omitempty"`
	Type        ProductType `json:"type"`
	Category    string      `json:"category,omitempty"`
	// ExternalURL is set for GOODS sold off-platform; such purchases never
	// touch the wallet balance.
	ExternalURL string `json:"external_url,omitempty"`
	CreatedTS   int64  `json:"created_ts,omitempty"`
}
