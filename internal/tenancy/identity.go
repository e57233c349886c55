// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tenancy defines how tenants and raw database names combine into the
// fully-qualified identities that key the engine cache.
package tenancy

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates tenant from raw database name in a qualified identity.
// It is load-bearing: names containing it would make qualified identities
// ambiguous, so ValidateName rejects them.
const Delimiter = "__"

var (
	ErrEmptyName     = errors.New("name is empty")
	ErrReservedChars = errors.New("name contains reserved characters")
)

// Identity is a raw database name plus an optional tenant. The zero tenant
// means the database is shared (not tenant-scoped).
type Identity struct {
	Database string
	Tenant   string
}

// NewIdentity validates both parts and returns the identity.
func NewIdentity(database, tenant string) (Identity, error) {
	if err := ValidateName(database); err != nil {
		return Identity{}, fmt.Errorf("database name %q: %w", database, err)
	}
	if tenant != "" {
		if err := ValidateName(tenant); err != nil {
			return Identity{}, fmt.Errorf("tenant id %q: %w", tenant, err)
		}
	}
	return Identity{Database: database, Tenant: tenant}, nil
}

// Qualified returns the fully-qualified database name: "tenant__database"
// when a tenant is set, else the raw database name.
func (i Identity) Qualified() string {
	if i.Tenant == "" {
		return i.Database
	}
	return i.Tenant + Delimiter + i.Database
}

// String implements fmt.Stringer using the qualified form.
func (i Identity) String() string {
	return i.Qualified()
}

// IsTenantScoped reports whether the identity carries a tenant.
func (i Identity) IsTenantScoped() bool {
	return i.Tenant != ""
}

// Parse splits a fully-qualified name back into an identity. Names without
// the delimiter parse as shared databases.
func Parse(qualified string) (Identity, error) {
	if qualified == "" {
		return Identity{}, ErrEmptyName
	}

	tenant, database, found := strings.Cut(qualified, Delimiter)
	if !found {
		return NewIdentity(qualified, "")
	}
	return NewIdentity(database, tenant)
}

// ValidateName rejects names that would corrupt qualified identities or the
// artifact directory layout: empty names, names containing the delimiter,
// path separators, NUL, or whitespace.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if strings.Contains(name, Delimiter) {
		return fmt.Errorf("%w: %q", ErrReservedChars, Delimiter)
	}
	if strings.ContainsAny(name, "/\\\x00 \t\r\n") {
		return fmt.Errorf("%w: path separator or whitespace", ErrReservedChars)
	}
	return nil
}
