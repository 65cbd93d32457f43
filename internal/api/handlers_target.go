package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shorebase/shorebase/internal/firewall"
	"github.com/shorebase/shorebase/internal/orchestration"
	"github.com/shorebase/shorebase/internal/services"
	"github.com/shorebase/shorebase/models"
)

// getTarget returns the configured target host and its firewall rules.
func (s *Server) getTarget(c echo.Context) error {
	table, err := orchestration.BuildTable(s.config)
	if err != nil {
		return InternalError("Failed to build firewall table", err.Error())
	}

	target := models.Target{
		Name:         s.config.Target.Name,
		Address:      s.config.Target.Address,
		User:         s.config.Target.User,
		Port:         s.config.Target.Port,
		HardenedPort: s.config.Hardening.SSHPort,
		Subnet:       s.config.Target.Subnet,
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"target":        target,
		"admin_user":    s.config.Hardening.AdminUser,
		"firewall":      firewallRules(table),
		"firewall_cmds": table.Commands(),
	})
}

type firewallRuleView struct {
	Service string `json:"service"`
	Port    int    `json:"port"`
	Proto   string `json:"proto"`
	Scope   string `json:"scope"`
}

func firewallRules(table *firewall.Table) []firewallRuleView {
	rules := table.Rules()
	views := make([]firewallRuleView, 0, len(rules))
	for _, r := range rules {
		views = append(views, firewallRuleView{
			Service: r.Service,
			Port:    r.Port,
			Proto:   string(r.Proto),
			Scope:   string(r.Scope),
		})
	}
	return views
}

type serviceView struct {
	Name  string   `json:"name"`
	Image string   `json:"image"`
	Ports []string `json:"ports,omitempty"`
}

// listServices returns the declared service set.
func (s *Server) listServices(c echo.Context) error {
	specs, err := services.Specs(s.config)
	if err != nil {
		return InternalError("Failed to build service specs", err.Error())
	}

	views := make([]serviceView, 0, len(specs))
	for _, spec := range specs {
		view := serviceView{
			Name:  spec.Name,
			Image: spec.Image,
		}
		for _, p := range spec.Ports {
			view.Ports = append(view.Ports, fmt.Sprintf("%d/%s", p.HostPort, p.Proto))
		}
		views = append(views, view)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"services": views,
		"count":    len(views),
	})
}

type stageView struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

// getPlan returns the ordered stages and steps an apply run would execute.
func (s *Server) getPlan(c echo.Context) error {
	stages, err := orchestration.Plan(s.config)
	if err != nil {
		return InternalError("Failed to build plan", err.Error())
	}

	views := make([]stageView, 0, len(stages))
	for _, stage := range stages {
		view := stageView{Name: stage.Name}
		for _, step := range stage.Steps {
			view.Steps = append(view.Steps, step.Name)
		}
		views = append(views, view)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"stages": views,
	})
}
