package preflight

import (
	"context"
	"fmt"

	"github.com/ragforge/ragserver/internal/catalog"
	"github.com/ragforge/ragserver/internal/config"
)

// CheckCatalog opens the catalog database, runs a status query against it
// and closes it again. A catalog that cannot be opened or queried blocks
// startup.
func (c *Checker) CheckCatalog(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "catalog",
		Required: true,
	}

	path := cfg.ResolvedCatalogPath()
	store, err := catalog.New(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot open %s: %v", path, err)
		return result
	}
	defer func() { _ = store.Close() }()

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("status query failed: %v", err)
		return result
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d document(s) tracked", total)
	result.Details = path
	return result
}
