// Package models defines the entities, embedding records, and search types shared by kura packages.
package models

import (
	"strings"

	kerr "github.com/hyperjump/kura/pkg/errors"
)

// EntityType names a kind of business entity the store keeps vectors for.
type EntityType string

const (
	EntityProduct EntityType = "product"
	EntityFAQ     EntityType = "faq"
	EntityOrder   EntityType = "order"
	EntityGeneric EntityType = "generic"
)

// EntityTypes lists every supported entity type.
func EntityTypes() []EntityType {
	return []EntityType{EntityProduct, EntityFAQ, EntityOrder, EntityGeneric}
}

// Valid reports whether t is one of the supported entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityProduct, EntityFAQ, EntityOrder, EntityGeneric:
		return true
	}
	return false
}

// ParseEntityType parses s case-insensitively. Unknown names are an error.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", kerr.New(kerr.CodeModelsEntityInvalidInput, "unknown entity type",
			kerr.Field("entity_type", s))
	}
	return t, nil
}

// Identity is the (type, id) key of an entity. At most one record per identity
// exists in a content mapping.
type Identity struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// String returns "type:id".
func (i Identity) String() string {
	return string(i.Type) + ":" + i.ID
}

// ParseIdentity is the inverse of Identity.String.
func ParseIdentity(s string) (Identity, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, kerr.New(kerr.CodeModelsEntityInvalidInput, "malformed identity",
			kerr.Field("identity", s))
	}
	ident := Identity{Type: EntityType(typ), ID: id}
	return ident, ident.Validate()
}

// Validate checks the type and that the id is safe to use as part of a file name.
func (i Identity) Validate() error {
	if !i.Type.Valid() {
		return kerr.New(kerr.CodeModelsEntityInvalidInput, "unknown entity type",
			kerr.Field("entity_type", string(i.Type)))
	}
	switch {
	case strings.TrimSpace(i.ID) == "":
		return kerr.New(kerr.CodeModelsEntityInvalidInput, "entity id is empty",
			kerr.Field("entity_type", string(i.Type)))
	case len(i.ID) > 200,
		strings.ContainsAny(i.ID, "/\\\x00"),
		strings.Contains(i.ID, ".."):
		return kerr.New(kerr.CodeModelsEntityInvalidInput, "entity id is not a valid file name component",
			kerr.FieldEntity(string(i.Type), i.ID)...)
	}
	return nil
}

// EmbeddingRecord is one row of the content mapping. Its position in the mapping
// is its row in the vector index.
type EmbeddingRecord struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
	Text string     `json:"text"`
}

// Identity returns the record's (type, id) key.
func (r EmbeddingRecord) Identity() Identity {
	return Identity{Type: r.Type, ID: r.ID}
}

// Entity is a business entity that can be serialized and embedded.
type Entity interface {
	Identity() Identity
}

// Product is a catalog item. Name, Description and Price are required.
type Product struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Price          *float64          `json:"price"`
	SKU            string            `json:"sku,omitempty"`
	Brand          string            `json:"brand,omitempty"`
	Categories     []string          `json:"categories,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

func (p *Product) Identity() Identity { return Identity{Type: EntityProduct, ID: p.ID} }

// FAQ is a question/answer pair. Question and Answer are required.
type FAQ struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
}

func (f *FAQ) Identity() Identity { return Identity{Type: EntityFAQ, ID: f.ID} }

// OrderItem is one line of an order.
type OrderItem struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// Order is a customer order. OrderNumber, CustomerName, Status and TotalAmount are required.
type Order struct {
	ID            string      `json:"id"`
	OrderNumber   string      `json:"order_number"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	Status        string      `json:"status"`
	TotalAmount   *float64    `json:"total_amount"`
	Items         []OrderItem `json:"items,omitempty"`
}

func (o *Order) Identity() Identity { return Identity{Type: EntityOrder, ID: o.ID} }

// Generic is any other entity, carried as an open field set.
type Generic struct {
	ID     string
	Fields map[string]any
}

func (g *Generic) Identity() Identity { return Identity{Type: EntityGeneric, ID: g.ID} }

// Float returns a pointer to v, for the optional numeric fields above.
func Float(v float64) *float64 { return &v }
