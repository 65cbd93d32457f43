package services

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/shorebase/shorebase/internal/config"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

// renderSMBConf renders the samba configuration for the file-sharing
// container. Access is limited to the trusted subnet at the protocol level
// too, not just by the firewall.
func renderSMBConf(cfg *config.Config) ([]byte, error) {
	var buf bytes.Buffer
	err := templates.ExecuteTemplate(&buf, "smb.conf.tmpl", map[string]any{
		"ServerName": cfg.Target.Name,
		"Subnet":     cfg.Target.Subnet,
		"ShareName":  cfg.Services.Share.ShareName,
		"ShareUser":  cfg.Services.Share.ShareUser,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render smb.conf: %w", err)
	}
	return buf.Bytes(), nil
}
