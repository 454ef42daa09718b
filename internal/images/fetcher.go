package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrTooLarge is returned when the remote image exceeds the fetcher's limit.
	ErrTooLarge = errors.New("image too large")

	// ErrForbiddenHost is returned when the image host resolves to a non-public address.
	ErrForbiddenHost = errors.New("image host is not a public address")
)

const maxRedirects = 5

// Fetcher retrieves meal photos referenced by URL.
// Unless AllowPrivate is set, connections to loopback, private, link-local and
// other non-public addresses are refused at dial time, redirects included.
type Fetcher struct {
	HTTPClient   *http.Client
	MaxBytes     int64
	AllowPrivate bool
}

// NewFetcher creates a new image fetcher that refuses bodies above maxBytes
func NewFetcher(maxBytes int64) *Fetcher {
	f := &Fetcher{MaxBytes: maxBytes}

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			if f.AllowPrivate {
				return nil
			}
			return checkPublic(address)
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// a proxy would hide the real destination from the dial check
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	f.HTTPClient = &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if !IsURL(req.URL.String()) {
				return fmt.Errorf("redirect to unsupported url %q", req.URL.Redacted())
			}
			return nil
		},
	}
	return f
}

// checkPublic rejects dial targets that are not globally routable.
func checkPublic(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
	}
	ip = ip.Unmap()
	if !ip.IsGlobalUnicast() || ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || sharedAddressSpace.Contains(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, ip)
	}
	return nil
}

// carrier-grade NAT range, not covered by netip's IsPrivate
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// Image is a downloaded photo with its detected media type
type Image struct {
	Data     []byte
	MIMEType string
}

// IsURL reports whether s looks like an http(s) image reference rather than a path.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch downloads the image at rawURL
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	if !IsURL(rawURL) {
		return nil, fmt.Errorf("invalid image url: %q", rawURL)
	}
	if !f.AllowPrivate {
		// literal addresses fail fast; hostnames are checked after resolution
		if u, _ := url.Parse(rawURL); u != nil {
			if _, err := netip.ParseAddr(u.Hostname()); err == nil {
				if err := checkPublic(u.Hostname()); err != nil {
					return nil, err
				}
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image URL returned status %d", resp.StatusCode)
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return nil, ErrTooLarge
	}

	body := io.Reader(resp.Body)
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	imageData, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if f.MaxBytes > 0 && int64(len(imageData)) > f.MaxBytes {
		return nil, ErrTooLarge
	}
	if len(imageData) == 0 {
		return nil, fmt.Errorf("image URL returned an empty body")
	}

	mimeType := mediaType(resp.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mediaType(http.DetectContentType(imageData))
	}
	slog.Debug("Downloaded image", "url", rawURL, "bytes", len(imageData), "mime_type", mimeType)

	return &Image{Data: imageData, MIMEType: mimeType}, nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return mt
}
