// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/autobrr/tenantkit/internal/buildinfo"
)

// reservedParams are conninfo keys owned by Options fields; entries in
// Options.Params with these keys are ignored so an extra-parameter bag can
// never redirect a tenant's traffic.
var reservedParams = map[string]struct{}{
	"host":            {},
	"port":            {},
	"user":            {},
	"password":        {},
	"dbname":          {},
	"sslmode":         {},
	"connect_timeout": {},
}

// ConnString renders the keyword/value conninfo for a database on the
// configured cluster. The result is accepted by both pgx.ParseConfig and
// pgxpool.ParseConfig. Log it only through redact.DSN.
func (o Options) ConnString(database string) string {
	parts := []string{
		"host=" + quoteConnValue(o.Host),
		fmt.Sprintf("port=%d", o.Port),
		"user=" + quoteConnValue(o.User),
	}

	if o.Password != "" {
		parts = append(parts, "password="+quoteConnValue(o.Password))
	}

	parts = append(parts, "dbname="+quoteConnValue(database))

	if o.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteConnValue(o.SSLMode))
	}

	if o.ConnectTimeout > 0 {
		secs := int(o.ConnectTimeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}

	if _, ok := o.Params["application_name"]; !ok {
		parts = append(parts, "application_name="+quoteConnValue("tenantkit/"+buildinfo.Version))
	}

	keys := make([]string, 0, len(o.Params))
	for k := range o.Params {
		if _, reserved := reservedParams[k]; reserved {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		parts = append(parts, k+"="+quoteConnValue(o.Params[k]))
	}

	return strings.Join(parts, " ")
}

// MaintenanceConnString targets the maintenance database used to create
// missing tenant databases.
func (o Options) MaintenanceConnString() string {
	db := o.MaintenanceDatabase
	if db == "" {
		db = "postgres"
	}
	return o.ConnString(db)
}

// quoteConnValue quotes a conninfo value when it is empty or contains
// characters the keyword/value format treats specially.
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}

	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range v {
		if r == '\'' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}
