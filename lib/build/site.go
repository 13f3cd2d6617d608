// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package build provides a construction site: a holder for a value that
// is assembled in stages from inputs arriving at different times.
//
// A [Site] is always in exactly one of three states:
//
//   - Void: nothing is being built. Asking for the builder is an error
//     in the caller's setup sequence ([ErrVoid]).
//   - Builder: inputs are being collected into a builder value.
//   - Product: the value has been built. It stays built for the life of
//     the site; asking for the builder now yields [ErrAlreadyBuilt].
//
// The only transition from Builder to Product is [Site.Erect].
package build

import (
	"errors"
	"fmt"
)

var (
	// ErrVoid is returned when a Void site is asked for its builder or
	// product, or asked to erect.
	ErrVoid = errors.New("build: construction site is void")

	// ErrAlreadyBuilt is returned when a built site is asked for its
	// builder or asked to erect again.
	ErrAlreadyBuilt = errors.New("build: product already built")

	// ErrNotBuilt is returned when the product of a site still in
	// Builder state is requested.
	ErrNotBuilt = errors.New("build: product not built yet")
)

// State identifies which variant a Site holds.
type State uint8

const (
	StateVoid State = iota
	StateBuilder
	StateProduct
)

func (s State) String() string {
	switch s {
	case StateVoid:
		return "void"
	case StateBuilder:
		return "builder"
	case StateProduct:
		return "product"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Builder assembles a product of type P from the inputs collected so
// far. Build must not modify the builder when it fails.
type Builder[P any] interface {
	Build() (P, error)
}

// Site is a tagged Void / Builder / Product holder. The zero value is a
// Void site. A Site is not safe for concurrent use; its owner
// serializes access.
type Site[B Builder[P], P any] struct {
	state   State
	builder B
	product P
}

// NewSite returns a site in Builder state holding builder.
func NewSite[B Builder[P], P any](builder B) *Site[B, P] {
	return &Site[B, P]{state: StateBuilder, builder: builder}
}

// NewBuilt returns a site already in Product state.
func NewBuilt[B Builder[P], P any](product P) *Site[B, P] {
	return &Site[B, P]{state: StateProduct, product: product}
}

// State reports the current variant.
func (s *Site[B, P]) State() State {
	return s.state
}

// Builder returns the builder for adding inputs. It fails with ErrVoid
// or ErrAlreadyBuilt outside Builder state.
func (s *Site[B, P]) Builder() (B, error) {
	var zero B
	switch s.state {
	case StateBuilder:
		return s.builder, nil
	case StateProduct:
		return zero, ErrAlreadyBuilt
	default:
		return zero, ErrVoid
	}
}

// Product returns the built value. It fails with ErrVoid or
// ErrNotBuilt outside Product state.
func (s *Site[B, P]) Product() (P, error) {
	var zero P
	switch s.state {
	case StateProduct:
		return s.product, nil
	case StateBuilder:
		return zero, ErrNotBuilt
	default:
		return zero, ErrVoid
	}
}

// Erect builds the product and moves the site to Product state. If the
// build fails the site stays in Builder state with the builder
// unchanged, and the build error is returned.
func (s *Site[B, P]) Erect() error {
	switch s.state {
	case StateVoid:
		return ErrVoid
	case StateProduct:
		return ErrAlreadyBuilt
	}

	product, err := s.builder.Build()
	if err != nil {
		return fmt.Errorf("build: erecting: %w", err)
	}

	var zero B
	s.builder = zero
	s.product = product
	s.state = StateProduct
	return nil
}
