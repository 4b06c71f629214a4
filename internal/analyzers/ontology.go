package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/storage"
)

// Ontology mines package registries and in-graph name variants to grow the
// dynamic alias dictionary used by the entity resolver. Existing mappings are
// never overwritten.
type Ontology struct {
	db         *storage.DB
	cfg        config.Config
	httpClient *http.Client
	logger     *slog.Logger

	// Overridable in tests.
	pypiURL   string
	npmURL    string
	cratesURL string
}

// NewOntology creates the updater.
func NewOntology(db *storage.DB, cfg config.Config, logger *slog.Logger) *Ontology {
	return &Ontology{
		db:         db,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RegistryTimeout},
		logger:     logger,
		pypiURL:    "https://pypi.org/pypi",
		npmURL:     "https://registry.npmjs.org",
		cratesURL:  "https://crates.io/api/v1/crates",
	}
}

// Update runs one mining pass: in-graph variants first, then registry lookups
// for frequent names, all bounded by the configured concurrency. Returns the
// number of new mappings.
func (o *Ontology) Update(ctx context.Context) (int, error) {
	variants, err := o.db.EntityNameVariants(ctx, o.cfg.OntologyMinOccurrences)
	if err != nil {
		return 0, fmt.Errorf("analyzers: ontology variants: %w", err)
	}

	added := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.RegistryConcurrency)
	results := make(chan [2]string, len(variants))

	for name := range variants {
		name := name
		g.Go(func() error {
			canonical := o.canonicalFromRegistries(gctx, name)
			if canonical != "" && !strings.EqualFold(canonical, name) {
				results <- [2]string{name, canonical}
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	for pair := range results {
		created, err := o.db.CreateAliasMapping(ctx, pair[0], pair[1], "registry")
		if err != nil {
			o.logger.Warn("analyzers: alias mapping write failed",
				"alias", pair[0], "error", err)
			continue
		}
		if created {
			added++
		}
	}
	return added, nil
}

// canonicalFromRegistries asks PyPI, npm, and crates.io in turn for the
// canonical spelling of a package name. First answer wins.
func (o *Ontology) canonicalFromRegistries(ctx context.Context, name string) string {
	if c := o.pypiName(ctx, name); c != "" {
		return c
	}
	if c := o.npmName(ctx, name); c != "" {
		return c
	}
	return o.cratesName(ctx, name)
}

func (o *Ontology) pypiName(ctx context.Context, name string) string {
	var body struct {
		Info struct {
			Name string `json:"name"`
		} `json:"info"`
	}
	if !o.fetchJSON(ctx, o.pypiURL+"/"+url.PathEscape(name)+"/json", &body) {
		return ""
	}
	return body.Info.Name
}

func (o *Ontology) npmName(ctx context.Context, name string) string {
	var body struct {
		Name string `json:"name"`
	}
	if !o.fetchJSON(ctx, o.npmURL+"/"+url.PathEscape(name), &body) {
		return ""
	}
	return body.Name
}

func (o *Ontology) cratesName(ctx context.Context, name string) string {
	var body struct {
		Crate struct {
			Name string `json:"name"`
		} `json:"crate"`
	}
	if !o.fetchJSON(ctx, o.cratesURL+"/"+url.PathEscape(name), &body) {
		return ""
	}
	return body.Crate.Name
}

func (o *Ontology) fetchJSON(ctx context.Context, u string, out any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
