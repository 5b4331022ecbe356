// Package scripts embeds the Risor classification scripts shipped with tinct.
package scripts

import "embed"

// FS holds classify/<language>.risor.
//
//go:embed classify/*.risor
var FS embed.FS
