package httputil

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"apt_scrooper/config"
)

// Clients holds the HTTP clients used by the daemon
type Clients struct {
	Scraping *http.Client // proxied when PROXY_URL is set, for building sites
}

func NewClients(proxyCfg config.ProxyConfig, scraperCfg config.ScraperConfig) (*Clients, error) {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}

	if proxyCfg.URL != "" {
		proxyURL, err := url.Parse(proxyCfg.URL)
		if err != nil || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid PROXY_URL %q", proxyCfg.URL)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := scraperCfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Clients{
		Scraping: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}, nil
}
