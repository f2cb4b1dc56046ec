package domain

import "time"

// Book is the stock-bearing view of a catalog entry. Price is in minor units.
type Book struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Price     int64     `json:"price"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}
