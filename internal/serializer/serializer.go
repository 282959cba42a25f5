// Package serializer renders entities into the canonical text that gets embedded.
package serializer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/kura/internal/models"
)

// MissingFieldError reports a required field absent from an entity.
type MissingFieldError struct {
	EntityType models.EntityType
	Field      string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is missing required field %q", e.EntityType, e.Field)
}

// Serialize returns the canonical text for e. The output depends only on the
// entity's fields; map-valued fields are rendered in sorted key order.
func Serialize(e models.Entity) (string, error) {
	switch v := e.(type) {
	case *models.Product:
		return product(v)
	case *models.FAQ:
		return faq(v)
	case *models.Order:
		return order(v)
	case *models.Generic:
		return generic(v)
	case nil:
		return "", fmt.Errorf("nil entity")
	default:
		return "", fmt.Errorf("unsupported entity %T", e)
	}
}

func product(p *models.Product) (string, error) {
	if err := require(models.EntityProduct,
		field{"name", p.Name != ""},
		field{"description", p.Description != ""},
		field{"price", p.Price != nil},
	); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s. Description: %s. Price: $%s. ", p.Name, p.Description, money(*p.Price))
	if len(p.Categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s. ", strings.Join(p.Categories, ", "))
	}
	if p.Brand != "" {
		fmt.Fprintf(&b, "Brand: %s. ", p.Brand)
	}
	if len(p.Specifications) > 0 {
		keys := sortedKeys(p.Specifications)
		specs := make([]string, len(keys))
		for i, k := range keys {
			specs[i] = k + ": " + p.Specifications[k]
		}
		fmt.Fprintf(&b, "Specifications: %s.", strings.Join(specs, "; "))
	}
	return strings.TrimSpace(b.String()), nil
}

func faq(f *models.FAQ) (string, error) {
	if err := require(models.EntityFAQ,
		field{"question", f.Question != ""},
		field{"answer", f.Answer != ""},
	); err != nil {
		return "", err
	}
	text := fmt.Sprintf("Question: %s. Answer: %s. ", f.Question, f.Answer)
	if f.Category != "" {
		text += fmt.Sprintf("Category: %s.", f.Category)
	}
	return strings.TrimSpace(text), nil
}

func order(o *models.Order) (string, error) {
	if err := require(models.EntityOrder,
		field{"order_number", o.OrderNumber != ""},
		field{"customer_name", o.CustomerName != ""},
		field{"status", o.Status != ""},
		field{"total_amount", o.TotalAmount != nil},
	); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%s by %s. Status: %s. Total: $%s. ", o.OrderNumber, o.CustomerName, o.Status, money(*o.TotalAmount))
	if len(o.Items) > 0 {
		items := make([]string, len(o.Items))
		for i, item := range o.Items {
			qty := item.Quantity
			if qty < 1 {
				qty = 1
			}
			name := item.ProductName
			if name == "" {
				name = "Unknown"
			}
			items[i] = fmt.Sprintf("%d x %s", qty, name)
		}
		fmt.Fprintf(&b, "Items: %s.", strings.Join(items, "; "))
	}
	return strings.TrimSpace(b.String()), nil
}

func generic(g *models.Generic) (string, error) {
	keys := make([]string, 0, len(g.Fields))
	for k := range g.Fields {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", &MissingFieldError{EntityType: models.EntityGeneric, Field: "fields"}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + value(g.Fields[k])
	}
	return strings.Join(parts, " "), nil
}

type field struct {
	name    string
	present bool
}

func require(t models.EntityType, fields ...field) error {
	for _, f := range fields {
		if !f.present {
			return &MissingFieldError{EntityType: t, Field: f.name}
		}
	}
	return nil
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func value(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
