package strategy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rickgao/kis-vi/internal/model"
)

// Chain runs several strategies as one. Initialize runs in order and
// Cleanup in reverse; every member sees every event.
type Chain []Strategy

// Name joins the member names.
func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Initialize initializes every member. If one fails, those already
// initialized are cleaned up in reverse order.
func (c Chain) Initialize(ctx context.Context) error {
	for i, s := range c {
		if err := s.Initialize(ctx); err != nil {
			errs := []error{fmt.Errorf("%s: %w", s.Name(), err)}
			for _, done := range slices.Backward(c[:i]) {
				if cerr := done.Cleanup(ctx); cerr != nil {
					errs = append(errs, fmt.Errorf("%s cleanup: %w", done.Name(), cerr))
				}
			}
			return errors.Join(errs...)
		}
	}
	return nil
}

// ProcessData hands ev to every member and joins their errors.
func (c Chain) ProcessData(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, s := range c {
		if err := s.ProcessData(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Cleanup cleans every member up in reverse order and joins their errors.
func (c Chain) Cleanup(ctx context.Context) error {
	var errs []error
	for _, s := range slices.Backward(c) {
		if err := s.Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
