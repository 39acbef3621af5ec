package relay

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/modelrelay/modelrelay/pkg/config"
	"github.com/modelrelay/modelrelay/pkg/httpclient"
	"github.com/modelrelay/modelrelay/pkg/openai"
)

// ClientCache reuses downstream clients across requests. Keys carry the
// full provider identity plus the resolved API key, so a config reload or
// a rotated key env produces a fresh client instead of a stale one.
type ClientCache struct {
	mu         sync.RWMutex
	clients    map[string]*openai.Client
	transports map[string]*httpclient.Client
	group      singleflight.Group
}

func NewClientCache() *ClientCache {
	return &ClientCache{
		clients:    make(map[string]*openai.Client),
		transports: make(map[string]*httpclient.Client),
	}
}

// Get returns a client for the provider and model, building one on first
// use. The API key env is read on every call; an unset env for a
// translated provider fails with an authentication error.
func (c *ClientCache) Get(global config.TimeoutsConfig, provider *config.ProviderConfig, model string) (*openai.Client, error) {
	apiKey := ""
	if provider.APIKeyEnv != "" {
		apiKey = os.Getenv(provider.APIKeyEnv)
		if apiKey == "" {
			return nil, newError(KindAuthentication,
				"provider %q: environment variable %s is not set", provider.Name, provider.APIKeyEnv)
		}
	}

	key := provider.Key() + "\x00" + model + "\x00" + apiKey

	c.mu.RLock()
	client, ok := c.clients[key]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	built, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		client, ok := c.clients[key]
		c.mu.RUnlock()
		if ok {
			return client, nil
		}

		timeouts := provider.EffectiveTimeouts(global)
		client = openai.NewClient(provider.BaseURL, apiKey,
			openai.WithHTTPClient(httpclient.New(
				httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
				httpclient.WithTimeouts(
					time.Duration(timeouts.Connect)*time.Millisecond,
					time.Duration(timeouts.Read)*time.Millisecond,
				),
			)))

		c.mu.Lock()
		c.clients[key] = client
		c.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return built.(*openai.Client), nil
}

// GetTransport returns a raw HTTP client for the provider, used by the
// passthrough path where request bodies are forwarded untranslated.
func (c *ClientCache) GetTransport(global config.TimeoutsConfig, provider *config.ProviderConfig) *httpclient.Client {
	key := provider.Key()

	c.mu.RLock()
	client, ok := c.transports[key]
	c.mu.RUnlock()
	if ok {
		return client
	}

	built, _, _ := c.group.Do("transport\x00"+key, func() (any, error) {
		c.mu.RLock()
		client, ok := c.transports[key]
		c.mu.RUnlock()
		if ok {
			return client, nil
		}

		timeouts := provider.EffectiveTimeouts(global)
		client = httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
			httpclient.WithTimeouts(
				time.Duration(timeouts.Connect)*time.Millisecond,
				time.Duration(timeouts.Read)*time.Millisecond,
			),
		)

		c.mu.Lock()
		c.transports[key] = client
		c.mu.Unlock()
		return client, nil
	})
	return built.(*httpclient.Client)
}

// Reset drops every cached client. Called on config reload.
func (c *ClientCache) Reset() {
	c.mu.Lock()
	c.clients = make(map[string]*openai.Client)
	c.transports = make(map[string]*httpclient.Client)
	c.mu.Unlock()
}
