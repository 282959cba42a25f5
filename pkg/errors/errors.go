// Package errors provides coded errors shared across kura packages.
//
// Codes are dotted strings of the form domain.entity.reason; the last segment
// classifies the error (not_found, invalid_input, failure, ...) and drives
// HTTPStatus. Errors are built on samber/oops so fields travel with them.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeModelsEntityInvalidInput     Code = "models.entity.invalid_input"
	CodeSerializerFieldMissing       Code = "serializer.field.missing"
	CodeStoreEntityNotFound          Code = "store.entity.not_found"
	CodeStoreVectorDimensionMismatch Code = "store.vector.dimension_mismatch"
	CodeStoreRebuildMissingVector    Code = "store.rebuild.missing_vector"
	CodeStoreSnapshotCorrupt         Code = "store.snapshot.corrupt"
	CodeStoreIndexMisaligned         Code = "store.index.misaligned"
	CodeStoreIOFailure               Code = "store.io.failure"
	CodeStoreClosed                  Code = "store.state.closed"
	CodeStoreKeywordUnavailable      Code = "store.keyword.unavailable"
	CodeStoreEntityConflict          Code = "store.entity.conflict"

	CodeProviderEmbedUpstreamFailure Code = "provider.embed.upstream_failure"
	CodeProviderConfigInvalidInput   Code = "provider.config.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read_failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidInput Code = "config.validate.invalid_input"

	CodeImportSheetInvalidInput Code = "import.sheet.invalid_input"

	CodeServerRequestInvalidInput Code = "server.request.invalid_input"
	CodeServerInternalFailure     Code = "server.internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// FieldEntity tags an error with an entity identity.
func FieldEntity(entityType, id string) []Attr {
	return []Attr{Field("entity_type", entityType), Field("entity_id", id)}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the code carried by err, or "" for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

// FieldsOf returns the structured fields attached to err.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid_input" || r == "invalid_format" || r == "missing" || r == "dimension_mismatch"
}

func IsUpstreamFailure(err error) bool {
	return reason(CodeOf(err)) == "upstream_failure"
}

// HTTPStatus maps an error to the status code the HTTP API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case HasCode(err, CodeStoreVectorDimensionMismatch):
		return http.StatusUnprocessableEntity
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	case HasCode(err, CodeStoreKeywordUnavailable):
		return http.StatusNotImplemented
	case HasCode(err, CodeStoreEntityConflict),
		HasCode(err, CodeStoreRebuildMissingVector), HasCode(err, CodeStoreIndexMisaligned):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Join combines errs; nil entries are dropped and an all-nil list returns nil.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
