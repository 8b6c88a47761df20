package dashboard

import (
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"
)

func (d *Dashboard) registerViews(r router) {
	r.Handle("GET /{$}", http.HandlerFunc(d.statusPage))
	r.Handle("GET /status", http.HandlerFunc(d.statusPage))
	r.Handle("GET /config", http.HandlerFunc(d.configPage))
}

func (d *Dashboard) statusPage(w http.ResponseWriter, r *http.Request) {
	d.render(w, r, "status", d.instance.Monitor().Status())
}

func (d *Dashboard) configPage(w http.ResponseWriter, r *http.Request) {
	store, err := d.instance.Config().Store.Clone()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to clone config: %s", err), http.StatusInternalServerError)
		return
	}
	configStoreYaml, err := yaml.Marshal(store)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal config: %s", err), http.StatusInternalServerError)
		return
	}

	d.render(w, r, "config", struct {
		ConfigStore string
	}{
		ConfigStore: string(configStoreYaml),
	})
}
