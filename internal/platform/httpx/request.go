package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Validate runs struct validation and folds field errors into ErrValidation.
func Validate(v *validator.Validate, target any) error {
	err := v.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	sort.Strings(msgs)
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// UUIDParam parses a chi URL parameter as a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a UUID", ErrValidation, name)
	}
	return id, nil
}

// UUIDQuery parses an optional query parameter as a UUID.
func UUIDQuery(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a UUID", ErrValidation, name)
	}
	return id, nil
}

// DateQuery parses an optional YYYY-MM-DD query parameter.
func DateQuery(r *http.Request, name string) (*civil.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrValidation, name)
	}
	return &d, nil
}

// IntQuery parses an optional non-negative integer query parameter.
func IntQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrValidation, name)
	}
	return n, nil
}

// BoolQuery parses an optional boolean query parameter.
func BoolQuery(r *http.Request, name string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrValidation, name)
	}
	return b, nil
}

// Period reads the optional from/to date range and rejects inverted ranges.
func Period(r *http.Request) (from, to *civil.Date, err error) {
	if from, err = DateQuery(r, "from"); err != nil {
		return nil, nil, err
	}
	if to, err = DateQuery(r, "to"); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, fmt.Errorf("%w: to must not be before from", ErrValidation)
	}
	return from, to, nil
}
