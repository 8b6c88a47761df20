// Package dashboard serves a live status page of the session.
package dashboard

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	txtTemplate "text/template"
	"time"

	"github.com/leekchan/gtf"

	"github.com/mycoria/tunstat/config"
	"github.com/mycoria/tunstat/mgr"
	"github.com/mycoria/tunstat/monitor"
)

//go:embed views
var templateFS embed.FS

var viewFuncs = map[string]any{
	"divide": func(a, b float64) float64 { return a / b },
}

// Dashboard is a read-only status user interface.
type Dashboard struct {
	mgr      *mgr.Manager
	instance instance

	htmlTemplates map[string]*template.Template
	txtTemplates  *txtTemplate.Template
}

// instance is an interface subset of inst.Ance.
type instance interface {
	Version() string
	Config() *config.Config
	Monitor() *monitor.Monitor
}

// router is where the dashboard registers its views.
type router interface {
	Handle(pattern string, handler http.Handler)
}

// New creates a dashboard and registers its views.
func New(instance instance, r router) (*Dashboard, error) {
	d := &Dashboard{
		mgr:      mgr.New("dashboard"),
		instance: instance,
	}

	// Load templates from embedded data.
	err := d.loadTemplates(templateFS)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	d.registerViews(r)
	return d, nil
}

// Manager returns the module's manager.
func (d *Dashboard) Manager() *mgr.Manager {
	return d.mgr
}

// Start starts the dashboard.
func (d *Dashboard) Start() error {
	return nil
}

// Stop stops the dashboard.
func (d *Dashboard) Stop() error {
	return nil
}

func (d *Dashboard) loadTemplates(baseFS fs.FS) error {
	// Load html templates.
	includeTemplates, err := template.New("").Funcs(gtf.GtfFuncMap).Funcs(viewFuncs).ParseFS(baseFS, "views/include/*.html")
	if err != nil {
		return fmt.Errorf("load include templates: %w", err)
	}
	// Parse every page template together with the includes.
	views, err := fs.ReadDir(baseFS, "views")
	if err != nil {
		return fmt.Errorf("load page names: %w", err)
	}
	d.htmlTemplates = make(map[string]*template.Template)
	for _, view := range views {
		if view.IsDir() || !strings.HasSuffix(view.Name(), ".html") {
			continue
		}
		cloned, err := includeTemplates.Clone()
		if err != nil {
			return fmt.Errorf("clone include templates: %w", err)
		}
		pageTmpl, err := cloned.ParseFS(baseFS, path.Join("views", view.Name()))
		if err != nil {
			return fmt.Errorf("parse page %s template: %w", view.Name(), err)
		}
		d.htmlTemplates[view.Name()] = pageTmpl
	}

	// Load txt templates.
	d.txtTemplates, err = txtTemplate.New("").Funcs(gtf.GtfFuncMap).Funcs(viewFuncs).ParseFS(baseFS, "views/*.txt")
	if err != nil {
		return fmt.Errorf("load txt templates: %w", err)
	}

	return nil
}

type renderingData struct {
	Version  string
	Hostname string
	Started  time.Time
	Uptime   time.Duration
	Page     any
}

var (
	html  = "html"
	plain = "plain"
)

func (d *Dashboard) render(w http.ResponseWriter, r *http.Request, templateName string, data any) {
	var err error

	// Build render data set.
	hostname, _ := os.Hostname()
	renderData := &renderingData{
		Version:  d.instance.Version(),
		Hostname: hostname,
		Started:  d.instance.Config().Started(),
		Uptime:   d.instance.Config().Uptime().Round(time.Second),
		Page:     data,
	}

	// Find out which content type to use.
	contentType := html
	accept := r.Header.Get("Accept")
	userAgent := strings.ToLower(r.Header.Get("User-Agent"))
	switch {
	case strings.Contains(accept, "text/html"):
		contentType = html
	case strings.Contains(accept, "text/plain"):
		contentType = plain
	case strings.Contains(userAgent, "curl"):
		contentType = plain
	}
	w.Header().Set("Content-Type", "text/"+contentType+"; charset=utf-8")

	// Set content type and render.
	switch contentType {
	case plain:
		err = d.txtTemplates.ExecuteTemplate(w, templateName+".txt", renderData)
	case html:
		fallthrough
	default:
		templateName += ".html"
		tmpl, ok := d.htmlTemplates[templateName]
		if ok {
			err = tmpl.ExecuteTemplate(w, templateName, renderData)
		} else {
			err = fmt.Errorf("template %q not found", templateName)
		}
	}

	// Log render error.
	if err != nil {
		d.mgr.Error(
			"failed to render",
			"template", templateName,
			"err", err,
		)
	}
}
