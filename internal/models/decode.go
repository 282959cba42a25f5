package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	kerr "github.com/hyperjump/kura/pkg/errors"
)

// DecodeEntity builds the entity struct for t from a JSON object of fields.
// A non-empty id overrides any "id" in the payload; the resulting identity must validate.
func DecodeEntity(t EntityType, id string, data []byte) (Entity, error) {
	var e Entity
	switch t {
	case EntityProduct:
		p := &Product{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, decodeError(t, err)
		}
		if id != "" {
			p.ID = id
		}
		e = p
	case EntityFAQ:
		f := &FAQ{}
		if err := json.Unmarshal(data, f); err != nil {
			return nil, decodeError(t, err)
		}
		if id != "" {
			f.ID = id
		}
		e = f
	case EntityOrder:
		o := &Order{}
		if err := json.Unmarshal(data, o); err != nil {
			return nil, decodeError(t, err)
		}
		if id != "" {
			o.ID = id
		}
		e = o
	case EntityGeneric:
		fields := map[string]any{}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return nil, decodeError(t, err)
		}
		g := &Generic{ID: id, Fields: fields}
		if g.ID == "" {
			if raw, ok := fields["id"]; ok && raw != nil {
				g.ID = fmt.Sprint(raw)
			}
		}
		e = g
	default:
		return nil, kerr.New(kerr.CodeModelsEntityInvalidInput, "unknown entity type",
			kerr.Field("entity_type", string(t)))
	}
	if err := e.Identity().Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func decodeError(t EntityType, err error) error {
	return kerr.Wrap(err, kerr.CodeModelsEntityInvalidInput, "decode entity fields",
		kerr.Field("entity_type", string(t)))
}
