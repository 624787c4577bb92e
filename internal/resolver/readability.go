package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/haasonsaas/ablate/pkg/models"
)

// maxBodyBytes caps how much of any response body is read.
const maxBodyBytes = 10 * 1024 * 1024

// maxRedirects caps how many redirect hops a fetch follows.
const maxRedirects = 10

// ReadabilityConfig configures a ReadabilityProvider.
type ReadabilityConfig struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string

	// AllowPrivateHosts disables the private-address check. Tests only.
	AllowPrivateHosts bool
}

// ReadabilityProvider fetches pages directly and extracts the main article text.
type ReadabilityProvider struct {
	client       *http.Client
	userAgent    string
	allowPrivate bool
	lookupIP     func(host string) ([]net.IP, error)
}

// NewReadabilityProvider creates a direct-fetch provider.
func NewReadabilityProvider(cfg ReadabilityConfig) *ReadabilityProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; ablate/1.0)"
	}
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		client = &copied
	}
	p := &ReadabilityProvider{
		client:       client,
		userAgent:    cfg.UserAgent,
		allowPrivate: cfg.AllowPrivateHosts,
		lookupIP:     net.LookupIP,
	}
	if client.CheckRedirect == nil {
		client.CheckRedirect = p.checkRedirect
	}
	return p
}

// checkRedirect applies validateURL to every redirect hop.
func (p *ReadabilityProvider) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if err := p.validateURL(req.URL); err != nil {
		return fmt.Errorf("redirect to %s blocked: %w", req.URL.Redacted(), err)
	}
	return nil
}

// Name returns "readability".
func (p *ReadabilityProvider) Name() string {
	return "readability"
}

// Resolve downloads rawURL and extracts its readable text. Plain-text pages
// are returned as-is.
func (p *ReadabilityProvider) Resolve(ctx context.Context, rawURL string) (*models.Document, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if err := p.validateURL(parsed); err != nil {
		return nil, fmt.Errorf("URL validation failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: p.Name(), Status: resp.StatusCode}
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || (mediaType != "text/html" && mediaType != "text/plain") {
		return nil, fmt.Errorf("unsupported content type: %s", resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if mediaType == "text/plain" {
		return &models.Document{
			ID:    rawURL,
			Title: models.UntitledDocument,
			URL:   rawURL,
			Text:  normalizeText(string(body)),
		}, nil
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(spaceBlocks(article.Content)))
	if err != nil {
		return nil, fmt.Errorf("parse article: %w", err)
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = models.UntitledDocument
	}
	return &models.Document{
		ID:    rawURL,
		Title: title,
		URL:   rawURL,
		Text:  normalizeText(doc.Text()),
	}, nil
}

// validateURL rejects non-HTTP schemes and hosts that resolve to private,
// loopback or link-local addresses.
func (p *ReadabilityProvider) validateURL(parsed *url.URL) error {
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return errors.New("URL must have a hostname")
	}
	if p.allowPrivate {
		return nil
	}
	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return errors.New("localhost URLs are not allowed")
	}
	if ip := net.ParseIP(hostname); ip != nil {
		if isPrivateOrReservedIP(ip) {
			return errors.New("URL resolves to private/reserved IP address")
		}
		return nil
	}
	ips, err := p.lookupIP(hostname)
	if err != nil {
		// Unresolvable here may still resolve through a proxy.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return errors.New("URL resolves to private/reserved IP address")
		}
	}
	return nil
}

func isPrivateOrReservedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}

// blockTags get surrounding spaces so goquery's Text does not glue
// adjacent paragraphs together.
var blockTags = []string{"p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "br", "tr", "td", "blockquote", "pre"}

func spaceBlocks(html string) string {
	replacements := make([]string, 0, len(blockTags)*2)
	for _, tag := range blockTags {
		replacements = append(replacements, "</"+tag+">", "</"+tag+">\n")
	}
	replacements = append(replacements, "<br>", "<br>\n", "<br/>", "<br/>\n")
	return strings.NewReplacer(replacements...).Replace(html)
}

// normalizeText collapses runs of spaces within lines and drops blank lines.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
