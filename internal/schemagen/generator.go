// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package schemagen turns reflected schema descriptions into loadable
// binding artifacts. The Generator interface is the seam for alternative
// generators; the in-repo implementation emits a JSON envelope the binding
// loader deserializes into table-binding descriptors.
package schemagen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/autobrr/tenantkit/internal/dbinterface"
	"github.com/autobrr/tenantkit/internal/introspect"
	"github.com/autobrr/tenantkit/pkg/stringutils"
)

// FormatVersion is written into every artifact. The loader refuses artifacts
// from a newer major version, so generator upgrades that change the envelope
// shape fail loud instead of misparsing.
const FormatVersion = "1.0.0"

// ErrUnavailable means no generator is configured. Binding lookups degrade
// to "no binding available" instead of failing hard.
var ErrUnavailable = errors.New("schema generator unavailable")

// IncompatibleArtifactError reports an artifact written by a newer generator
// than this process understands.
type IncompatibleArtifactError struct {
	Format string
}

func (e *IncompatibleArtifactError) Error() string {
	return fmt.Sprintf("artifact format %q not supported (supported: %s)", e.Format, FormatVersion)
}

// Options carries generator switches. Tenant scopes the envelope; Flags are
// opaque, generator-specific toggles.
type Options struct {
	Tenant string
	Flags  []string
}

// Generator produces a loadable artifact from a reflected description. exec
// gives generators that render live values (sequence states, server
// defaults) a connection to do it with; the JSON generator does not use it.
type Generator interface {
	Generate(ctx context.Context, rawDatabase string, desc *introspect.SchemaDescription, exec dbinterface.Execer, opts Options, schema string) ([]byte, error)
}

// Envelope is the artifact payload: provenance header plus the description
// and the exposed binding name per table.
type Envelope struct {
	FormatVersion string                        `json:"formatVersion"`
	GenerationID  string                        `json:"generationId"`
	GeneratedAt   time.Time                     `json:"generatedAt"`
	Database      string                        `json:"database"`
	Tenant        string                        `json:"tenant,omitempty"`
	Schema        string                        `json:"schema"`
	Fingerprint   string                        `json:"fingerprint"`
	Description   *introspect.SchemaDescription `json:"description"`
	Exposed       map[string]string             `json:"exposed"`
}

// JSONGenerator is the default Generator.
type JSONGenerator struct {
	now   func() time.Time
	newID func() string
}

func NewJSONGenerator() *JSONGenerator {
	return &JSONGenerator{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (g *JSONGenerator) Generate(_ context.Context, rawDatabase string, desc *introspect.SchemaDescription, _ dbinterface.Execer, opts Options, schema string) ([]byte, error) {
	if desc == nil {
		return nil, pkgerrors.New("nil schema description")
	}

	env := &Envelope{
		FormatVersion: FormatVersion,
		GenerationID:  g.newID(),
		GeneratedAt:   g.now().UTC(),
		Database:      rawDatabase,
		Tenant:        opts.Tenant,
		Schema:        schema,
		Fingerprint:   desc.Fingerprint(),
		Description:   desc,
		Exposed:       ExposedNames(desc),
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "marshal artifact envelope")
	}

	return data, nil
}

// ExposedName computes the binding name a table is published under:
// PascalCase when that renders an exported identifier, else the raw name
// behind a "t_" prefix.
func ExposedName(table string) string {
	pascal := stringutils.ToPascalCase(table)
	if stringutils.IsExportedIdentifier(pascal) {
		return pascal
	}
	return "t_" + table
}

// ExposedNames maps every table to a unique exposed name. Pascal collisions
// ("user_profile" vs "user__profile") push the later table, in description
// order, to its "t_"-prefixed form.
func ExposedNames(desc *introspect.SchemaDescription) map[string]string {
	exposed := make(map[string]string, len(desc.Tables))
	taken := make(map[string]string, len(desc.Tables))

	for _, t := range desc.Tables {
		name := ExposedName(t.Name)
		if _, clash := taken[name]; clash {
			name = "t_" + t.Name
		}
		exposed[t.Name] = name
		taken[name] = t.Name
	}

	return exposed
}

// ParseEnvelope deserializes and validates an artifact.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshal artifact envelope")
	}

	if env.FormatVersion == "" {
		return nil, &IncompatibleArtifactError{Format: "missing"}
	}
	got, err := semver.NewVersion(env.FormatVersion)
	if err != nil {
		return nil, &IncompatibleArtifactError{Format: env.FormatVersion}
	}
	supported := semver.MustParse(FormatVersion)
	if got.Major() > supported.Major() {
		return nil, &IncompatibleArtifactError{Format: env.FormatVersion}
	}

	if env.Description == nil {
		return nil, pkgerrors.New("artifact envelope has no schema description")
	}
	if env.Exposed == nil {
		env.Exposed = ExposedNames(env.Description)
	}

	return &env, nil
}
