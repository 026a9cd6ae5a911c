// Package manifest defines the bootstrap manifest document and its
// acquisition from a remote repository or local file.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Client fetches and validates manifests.
type Client struct {
	httpClient *http.Client
	validate   *validator.Validate
}

// NewClient creates a manifest client with sane transport defaults.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		validate:   validator.New(),
	}
}

// Fetch retrieves the manifest from rawURL, which may be an http(s) URL, a
// file:// URL, or a plain filesystem path (operator convenience for
// validation and testing). Documents named *.yaml / *.yml are decoded as
// YAML, everything else as JSON. The returned manifest is validated and its
// phase lists sorted by explicit order.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Manifest, error) {
	data, name, err := c.read(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	m := &Manifest{}
	if isYAML(name) {
		if err := yaml.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", rawURL, err)
		}
	} else {
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", rawURL, err)
		}
	}

	if err := c.Validate(m); err != nil {
		return nil, err
	}

	sortByOrder(m.SetupAssistant)
	sortByOrder(m.Userland)
	return m, nil
}

// Validate checks the manifest shape: every package needs a non-empty name,
// type, url, and destination filename.
func (c *Client) Validate(m *Manifest) error {
	if m.Total() == 0 {
		return fmt.Errorf("manifest has no packages in either phase")
	}
	for _, phase := range Phases() {
		pkgs := m.Packages(phase)
		for i := range pkgs {
			if err := c.validate.Struct(&pkgs[i]); err != nil {
				return fmt.Errorf("invalid package %q in phase %s: %w", pkgs[i].Name, phase, err)
			}
		}
	}
	return nil
}

// CheckURLs probes every package URL for reachability. HEAD is tried first;
// servers that reject HEAD get a one-byte ranged GET. Returns one error per
// unreachable package.
func (c *Client) CheckURLs(ctx context.Context, m *Manifest) []error {
	var errs []error
	for _, phase := range Phases() {
		for _, pkg := range m.Packages(phase) {
			if err := c.probe(ctx, pkg.URL); err != nil {
				errs = append(errs, fmt.Errorf("package %q: %w", pkg.Name, err))
			}
		}
	}
	return errs
}

func (c *Client) probe(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid url %s: %w", rawURL, err)
	}
	resp, err := c.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 400 {
			return nil
		}
	}

	// Some hosts reject HEAD; retry with a ranged GET.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid url %s: %w", rawURL, err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err = c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable url %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("url %s returned status %d", rawURL, resp.StatusCode)
	}
	return nil
}

func (c *Client) read(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		p := rawURL
		if err == nil && u.Scheme == "file" {
			p = u.Path
		}
		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return nil, "", fmt.Errorf("failed to read manifest file %s: %w", p, rerr)
		}
		return data, p, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid manifest url %s: %w", rawURL, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch manifest %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("manifest %s returned status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read manifest body: %w", err)
	}
	return data, u.Path, nil
}

func isYAML(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// sortByOrder sorts packages by their explicit order field. The sort is
// stable so entries without an order keep manifest position.
func sortByOrder(pkgs []Package) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		return pkgs[i].Order < pkgs[j].Order
	})
}
