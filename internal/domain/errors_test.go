package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransientClassification(t *testing.T) {
	err := Transient(errors.New("kafka broker unreachable"))
	if !IsTransient(err) {
		t.Fatal("expected transient error")
	}
	if IsPermanent(err) {
		t.Fatal("transient error must not be permanent")
	}
	if Transient(nil) != nil {
		t.Fatal("Transient(nil) must stay nil")
	}
}

func TestPermanentClassification(t *testing.T) {
	err := Permanent(fmt.Errorf("decode payload: %w", errors.New("unexpected end of JSON input")))
	if !IsPermanent(err) {
		t.Fatal("expected permanent error")
	}
	if IsTransient(err) {
		t.Fatal("permanent error must not be transient")
	}
}

func TestInsufficientStockError(t *testing.T) {
	var err error = &InsufficientStockError{SKU: "sku-7", Requested: 3, Available: 2}

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("expected errors.Is match with ErrInsufficientStock")
	}

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatal("expected errors.As match")
	}
	if stockErr.SKU != "sku-7" {
		t.Fatalf("unexpected sku: %s", stockErr.SKU)
	}
}

func TestIsVersionConflict(t *testing.T) {
	wrapped := fmt.Errorf("save order: %w", ErrOrderVersionConflict)
	if !IsVersionConflict(wrapped) {
		t.Fatal("expected version conflict match")
	}
	if IsVersionConflict(ErrOrderNotFound) {
		t.Fatal("unexpected version conflict match")
	}
}
