package preflight

import (
	"fmt"
	"os"

	"github.com/ragforge/ragserver/internal/config"
	"github.com/ragforge/ragserver/internal/native"
	"github.com/ragforge/ragserver/internal/provider"
)

// CheckProviders validates the four provider bindings. Provider checks
// never block startup: the service degrades instead (keyword-only
// retrieval without an embedder, extractive answers without an LLM).
func (c *Checker) CheckProviders(cfg *config.Config) []CheckResult {
	bindings := []struct {
		name     string
		binding  provider.ModelConfig
		degraded string
	}{
		{"provider_llm", cfg.Providers.LLM, "answers fall back to raw retrieved context"},
		{"provider_embedding", cfg.Providers.Embedding, "retrieval runs keyword-only"},
		{"provider_vision", cfg.Providers.Vision, ""},
		{"provider_reranker", cfg.Providers.Reranker, ""},
	}

	results := make([]CheckResult, 0, len(bindings))
	for _, b := range bindings {
		results = append(results, c.checkProvider(b.name, b.binding, b.degraded))
	}
	return results
}

func (c *Checker) checkProvider(name string, mc provider.ModelConfig, degraded string) CheckResult {
	result := CheckResult{Name: name}

	if !mc.IsConfigured() {
		if degraded == "" {
			result.Status = StatusPass
			result.Message = "not configured (optional)"
			return result
		}
		result.Status = StatusWarn
		result.Message = "not configured"
		result.Details = degraded
		return result
	}

	if mc.IsRemote() && mc.APIKey == "" && requiresAPIKey(mc) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s configured without an API key", describeBinding(mc))
		result.Details = "the provider will reject unauthenticated requests"
		return result
	}

	result.Status = StatusPass
	result.Message = describeBinding(mc)
	return result
}

// requiresAPIKey reports whether a backend rejects unauthenticated
// requests. OpenAI-compatible endpoints are exempt when a custom base
// URL points at a local server.
func requiresAPIKey(mc provider.ModelConfig) bool {
	switch mc.Backend {
	case provider.BackendAnthropic, provider.BackendJina:
		return true
	case provider.BackendOpenAI:
		return mc.BaseURL == ""
	default:
		return false
	}
}

func describeBinding(mc provider.ModelConfig) string {
	if mc.Model == "" {
		return mc.Backend
	}
	return mc.Backend + "/" + mc.Model
}

// CheckNativeRuntime verifies the shared encoder library is reachable
// when any binding targets the in-process GPU runtime.
func (c *Checker) CheckNativeRuntime(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "native_runtime"}

	wanted := false
	for _, mc := range []provider.ModelConfig{
		cfg.Providers.LLM,
		cfg.Providers.Embedding,
		cfg.Providers.Vision,
		cfg.Providers.Reranker,
	} {
		if mc.WantsLocalGPU() {
			wanted = true
			break
		}
	}
	if !wanted {
		result.Status = StatusPass
		result.Message = "not used"
		return result
	}

	libPath := os.Getenv(native.EnvLibPath)
	if libPath == "" {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s is not set", native.EnvLibPath)
		result.Details = "local GPU bindings need the shared encoder library"
		return result
	}
	if _, err := os.Stat(libPath); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s: %v", native.EnvLibPath, err)
		return result
	}

	result.Status = StatusPass
	result.Message = libPath
	return result
}
