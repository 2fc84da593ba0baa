// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package zotero

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/zotexport/internal/ctxlog"
	"github.com/pdiddy/zotexport/pkg/types"
)

// pageSize is the largest page the items endpoint accepts.
const pageSize = 100

// ExportRequest selects the library and format to export.
type ExportRequest struct {
	UserID string
	Format types.ExportFormat

	// SinceVersion, when non-zero, makes the first request conditional:
	// Zotero answers 304 if the library has not changed since that version.
	SinceVersion uint64
}

// ExportResult holds the concatenated export text.
type ExportResult struct {
	// Unchanged is true when Zotero answered 304; Body is then empty.
	Unchanged bool

	// LibraryVersion is the Last-Modified-Version of the first page, or 0.
	LibraryVersion uint64

	Body  []byte
	Pages int
}

// Export downloads the whole library in the requested format, following the
// Link header's rel="next" URLs and concatenating each page's body in order.
func (c *Client) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("export: user id is empty")
	}
	if req.Format == "" {
		req.Format = types.FormatBibLaTeX
	}

	next := c.itemsURL(req.UserID, req.Format)
	header := http.Header{}
	if req.SinceVersion > 0 {
		header.Set("If-Modified-Since-Version", strconv.FormatUint(req.SinceVersion, 10))
	}

	log := ctxlog.FromContext(ctx)
	result := &ExportResult{}
	var buf bytes.Buffer
	seen := make(map[string]bool)

	for next != "" {
		if seen[next] {
			return nil, fmt.Errorf("export: pagination loops back to %s", next)
		}
		seen[next] = true

		resp, err := c.get(ctx, next, header)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusNotModified && result.Pages == 0:
			resp.Body.Close()
			log.Debug("library unchanged", "since_version", req.SinceVersion)
			result.Unchanged = true
			result.LibraryVersion = req.SinceVersion
			return result, nil
		case resp.StatusCode != http.StatusOK:
			err := statusError(next, resp)
			resp.Body.Close()
			return nil, err
		}

		if result.Pages == 0 {
			result.LibraryVersion = libraryVersion(resp.Header)
		}
		_, copyErr := io.Copy(&buf, resp.Body)
		resp.Body.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("reading page %d: %w", result.Pages+1, copyErr)
		}
		result.Pages++

		next = NextPageURL(resp.Header)
		// Later pages are fetched unconditionally; the first 200 already
		// established that the library changed.
		header = nil
		log.Debug("fetched page", "page", result.Pages, "bytes", buf.Len(), "more", next != "")
	}

	result.Body = buf.Bytes()
	return result, nil
}

func (c *Client) itemsURL(userID string, format types.ExportFormat) string {
	params := url.Values{
		"format": {string(format)},
		"limit":  {strconv.Itoa(pageSize)},
	}
	return fmt.Sprintf("%s/users/%s/items?%s", c.BaseURL, url.PathEscape(userID), params.Encode())
}

func libraryVersion(h http.Header) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(h.Get("Last-Modified-Version")), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// NextPageURL returns the rel="next" target of a Link header, or "" when
// there is no next page.
func NextPageURL(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			sections := strings.Split(part, ";")
			if len(sections) < 2 {
				continue
			}
			target := strings.TrimSpace(sections[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range sections[1:] {
				if isRelNext(param) {
					return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
				}
			}
		}
	}
	return ""
}

func isRelNext(param string) bool {
	name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "rel") {
		return false
	}
	value = strings.Trim(strings.TrimSpace(value), `"`)
	for _, rel := range strings.Fields(value) {
		if strings.EqualFold(rel, "next") {
			return true
		}
	}
	return false
}
