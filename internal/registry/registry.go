// Package registry implements the service registry: a directory of
// registered services persisted as one JSON file per service, plus an
// explicit health-probe helper. Grounded on
// original_source/services/jobs/main.py's _register_service,
// _list_services, _unregister_service and _health_check_service.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ytarchive/fleet/internal/fsatomic"
	"github.com/ytarchive/fleet/internal/models"
)

// ErrNotFound is returned when a named service has no registry entry.
var ErrNotFound = fmt.Errorf("service not registered")

// Registration is the input to Register.
type Registration struct {
	ServiceName string
	Host        string
	Port        int
	HealthPath  string
	Description string
	Tags        []string
}

// Registry persists RegisteredService records as one JSON file per
// service under dir. It never auto-evicts a stale service and never
// probes health on its own; IsHealthy only changes when a caller
// invokes CheckHealth.
type Registry struct {
	dir    string
	client *http.Client
}

// New creates a Registry rooted at dir, creating it if necessary.
func New(dir string) (*Registry, error) {
	if err := fsatomic.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return &Registry{
		dir:    dir,
		client: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (r *Registry) path(serviceName string) string {
	return filepath.Join(r.dir, serviceName+".json")
}

// Register persists a service entry, overwriting any prior registration
// for the same name.
func (r *Registry) Register(reg Registration) (models.RegisteredService, error) {
	svc := models.RegisteredService{
		ServiceName:  reg.ServiceName,
		Host:         reg.Host,
		Port:         reg.Port,
		HealthPath:   reg.HealthPath,
		Description:  reg.Description,
		Tags:         reg.Tags,
		RegisteredAt: time.Now().UTC(),
		IsHealthy:    true,
	}
	if err := fsatomic.WriteJSON(r.path(reg.ServiceName), svc); err != nil {
		return models.RegisteredService{}, fmt.Errorf("registry: register %s: %w", reg.ServiceName, err)
	}
	return svc, nil
}

// List returns every registered service, sorted by name.
func (r *Registry) List() ([]models.RegisteredService, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}

	services := make([]models.RegisteredService, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var svc models.RegisteredService
		if err := fsatomic.ReadJSON(filepath.Join(r.dir, entry.Name()), &svc); err != nil {
			// Skip malformed service files rather than fail the whole listing.
			continue
		}
		services = append(services, svc)
	}

	sort.Slice(services, func(i, j int) bool {
		return services[i].ServiceName < services[j].ServiceName
	})
	return services, nil
}

// Get returns a single service entry by name.
func (r *Registry) Get(serviceName string) (models.RegisteredService, error) {
	var svc models.RegisteredService
	if !fsatomic.Exists(r.path(serviceName)) {
		return models.RegisteredService{}, fmt.Errorf("%w: %s", ErrNotFound, serviceName)
	}
	if err := fsatomic.ReadJSON(r.path(serviceName), &svc); err != nil {
		return models.RegisteredService{}, fmt.Errorf("registry: get %s: %w", serviceName, err)
	}
	return svc, nil
}

// Unregister removes a service's entry. It reports whether an entry
// existed to remove.
func (r *Registry) Unregister(serviceName string) (bool, error) {
	if !fsatomic.Exists(r.path(serviceName)) {
		return false, nil
	}
	if err := os.Remove(r.path(serviceName)); err != nil {
		return false, fmt.Errorf("registry: unregister %s: %w", serviceName, err)
	}
	return true, nil
}

// CheckHealth performs a single GET against the service's health
// endpoint and persists the outcome (is_healthy, last_health_check).
// It never runs on a timer; callers decide when to probe.
func (r *Registry) CheckHealth(ctx context.Context, serviceName string) (bool, error) {
	svc, err := r.Get(serviceName)
	if err != nil {
		return false, err
	}

	healthy := r.probe(ctx, svc)

	now := time.Now().UTC()
	svc.LastHealthCheck = &now
	svc.IsHealthy = healthy
	if err := fsatomic.WriteJSON(r.path(serviceName), svc); err != nil {
		return healthy, fmt.Errorf("registry: persist health check for %s: %w", serviceName, err)
	}
	return healthy, nil
}

func (r *Registry) probe(ctx context.Context, svc models.RegisteredService) bool {
	url := fmt.Sprintf("http://%s:%d%s", svc.Host, svc.Port, svc.HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
