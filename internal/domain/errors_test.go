package domain

import (
	"errors"
	"testing"
)

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "cart empty",
			err:  ErrCartEmpty,
			want: true,
		},
		{
			name: "wrapped validation error",
			err:  errors.Join(ErrQuantityInvalid, errors.New("additional context")),
			want: true,
		},
		{
			name: "insufficient stock is not validation",
			err:  ErrInsufficientStock,
			want: false,
		},
		{
			name: "not found is not validation",
			err:  ErrSaleNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidation(tt.err)
			if got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "product", err: ErrProductNotFound, want: true},
		{name: "sale", err: ErrSaleNotFound, want: true},
		{name: "payment", err: ErrPaymentNotFound, want: true},
		{name: "sync item", err: ErrSyncItemNotFound, want: true},
		{name: "wrapped", err: errors.Join(ErrSaleNotFound, errors.New("extra")), want: true},
		{name: "other", err: ErrVersionConflict, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrSaleNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}
