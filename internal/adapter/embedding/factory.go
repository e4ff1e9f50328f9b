package embedding

import (
	"fmt"
	"os"

	"imgsearch/config"
	"imgsearch/internal/port"
)

// New builds the encoder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig) (port.Encoder, error) {
	switch cfg.Provider {
	case "histogram", "":
		return NewHistogramEncoder(), nil
	case "jina":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = JinaBaseURL
		}
		return NewHTTPEncoder(HTTPOptions{
			APIKey:    apiKey,
			Model:     cfg.Model,
			BaseURL:   baseURL,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
		})
	case "openai-compatible":
		// Local gateways often run without a key.
		return NewHTTPEncoder(HTTPOptions{
			APIKey:    os.Getenv(cfg.APIKeyEnv),
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
