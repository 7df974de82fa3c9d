// Package appfs embeds the files shipped inside the binaries: database migrations and email templates.
package appfs

import "embed"

//go:embed migrations/*.sql all:templates
var FS embed.FS

const (
	MigrationsDir    = "migrations"
	EmailTemplateDir = "templates/email"
)
