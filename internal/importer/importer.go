// Package importer reads products, FAQs and orders from a spreadsheet workbook.
//
// Each entity type lives on its own sheet (products, faqs, orders) with a
// header row; column names are matched case-insensitively. Other sheets are
// ignored.
package importer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kura/internal/models"
	kerr "github.com/hyperjump/kura/pkg/errors"
)

// Sheet names recognized in a workbook.
const (
	SheetProducts = "products"
	SheetFAQs     = "faqs"
	SheetOrders   = "orders"
)

// Result holds the entities read from a workbook and the rows that failed.
type Result struct {
	Entities []models.Entity
	Errors   []error
	// Sheets lists the recognized sheets that were read.
	Sheets []string
}

// ReadFile reads the workbook at path.
func ReadFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeImportSheetInvalidInput, "read workbook", kerr.Field("path", path))
	}
	return Read(bytes.NewReader(data))
}

// Read parses a workbook. A workbook that cannot be opened is an error; bad
// rows are collected in Result.Errors and skipped.
func Read(r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeImportSheetInvalidInput, "open workbook")
	}
	defer f.Close()

	res := &Result{}
	for _, sheet := range f.GetSheetList() {
		var parse rowParser
		switch strings.ToLower(strings.TrimSpace(sheet)) {
		case SheetProducts:
			parse = parseProduct
		case SheetFAQs:
			parse = parseFAQ
		case SheetOrders:
			parse = parseOrder
		default:
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, kerr.Wrap(err, kerr.CodeImportSheetInvalidInput, "get rows", kerr.Field("sheet", sheet))
		}
		res.Sheets = append(res.Sheets, sheet)
		readSheet(res, sheet, rows, parse)
	}
	return res, nil
}

type rowParser func(row record) (models.Entity, error)

// record is one data row addressed by lowercase header name.
type record map[string]string

func (r record) get(col string) string { return strings.TrimSpace(r[col]) }

func readSheet(res *Result, sheet string, rows [][]string, parse rowParser) {
	if len(rows) == 0 {
		return
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for i, cells := range rows[1:] {
		rowNum := i + 2 // 1-based, after the header
		rec := make(record, len(header))
		blank := true
		for j, h := range header {
			if j < len(cells) && h != "" {
				rec[h] = cells[j]
				if strings.TrimSpace(cells[j]) != "" {
					blank = false
				}
			}
		}
		if blank {
			continue
		}
		e, err := parse(rec)
		if err != nil {
			res.Errors = append(res.Errors, kerr.Wrap(err, kerr.CodeImportSheetInvalidInput,
				fmt.Sprintf("sheet %s row %d", sheet, rowNum),
				kerr.Field("sheet", sheet), kerr.Field("row", rowNum)))
			continue
		}
		res.Entities = append(res.Entities, e)
	}
}

func idOrNew(r record) string {
	if id := r.get("id"); id != "" {
		return id
	}
	return uuid.New().String()
}

// optionalFloat parses a money column; blank yields nil so the serializer can
// report the missing field.
func optionalFloat(r record, col string) (*float64, error) {
	s := strings.TrimPrefix(r.get(col), "$")
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil, fmt.Errorf("column %s: %q is not a number", col, r.get(col))
	}
	return &v, nil
}

func parseProduct(r record) (models.Entity, error) {
	price, err := optionalFloat(r, "price")
	if err != nil {
		return nil, err
	}
	specs, err := parseSpecifications(r.get("specifications"))
	if err != nil {
		return nil, err
	}
	return &models.Product{
		ID:             idOrNew(r),
		Name:           r.get("name"),
		Description:    r.get("description"),
		Price:          price,
		SKU:            r.get("sku"),
		Brand:          r.get("brand"),
		Categories:     splitList(r.get("categories"), ","),
		Specifications: specs,
	}, nil
}

func parseFAQ(r record) (models.Entity, error) {
	return &models.FAQ{
		ID:       idOrNew(r),
		Question: r.get("question"),
		Answer:   r.get("answer"),
		Category: r.get("category"),
	}, nil
}

func parseOrder(r record) (models.Entity, error) {
	total, err := optionalFloat(r, "total_amount")
	if err != nil {
		return nil, err
	}
	items, err := parseItems(r.get("items"))
	if err != nil {
		return nil, err
	}
	return &models.Order{
		ID:            idOrNew(r),
		OrderNumber:   r.get("order_number"),
		CustomerName:  r.get("customer_name"),
		CustomerEmail: r.get("customer_email"),
		Status:        r.get("status"),
		TotalAmount:   total,
		Items:         items,
	}, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseSpecifications reads "key: value; key2: value2".
func parseSpecifications(s string) (map[string]string, error) {
	parts := splitList(s, ";")
	if len(parts) == 0 {
		return nil, nil
	}
	specs := make(map[string]string, len(parts))
	for _, part := range parts {
		k, v, ok := strings.Cut(part, ":")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" {
			return nil, fmt.Errorf("column specifications: %q is not key: value", part)
		}
		specs[k] = v
	}
	return specs, nil
}

// parseItems reads "2 x Widget; 1 x Gadget". A bare product name means quantity 1.
func parseItems(s string) ([]models.OrderItem, error) {
	parts := splitList(s, ";")
	if len(parts) == 0 {
		return nil, nil
	}
	items := make([]models.OrderItem, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) >= 3 && strings.EqualFold(fields[1], "x") {
			qty, err := strconv.Atoi(fields[0])
			if err != nil || qty < 1 {
				return nil, fmt.Errorf("column items: bad quantity in %q", part)
			}
			items = append(items, models.OrderItem{ProductName: strings.Join(fields[2:], " "), Quantity: qty})
			continue
		}
		items = append(items, models.OrderItem{ProductName: part, Quantity: 1})
	}
	return items, nil
}
