package usecase

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/repository"
)

// LinkExtractor derives in-scope canonical URLs from a rendered page.
type LinkExtractor struct {
	canon  *Canonicalizer
	logger *zap.Logger
}

func NewLinkExtractor(canon *Canonicalizer, logger *zap.Logger) *LinkExtractor {
	return &LinkExtractor{canon: canon, logger: logger}
}

// Extract returns the deduplicated in-scope links of page in document order.
// Relative hrefs resolve against the page's <base href> if present, else its URL.
// On a parse failure it returns an empty slice and an error wrapping ErrExtract.
func (e *LinkExtractor) Extract(page *entity.RenderedPage) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return []string{}, fmt.Errorf("%w: %s: %v", repository.ErrExtract, page.URL, err)
	}

	// Document-relative hrefs ("Other") resolve like a browser would, against
	// the page, not the site root; absolute and root-relative links are unaffected.
	base := page.URL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := e.canon.resolveOnly(href, page.URL); err == nil {
			base = resolved
		}
	}

	seen := make(map[string]struct{})
	links := []string{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		e.logger.Debug("found link", zap.String("href", href))

		canonical, err := e.canon.Canonicalize(href, base)
		if err != nil {
			e.logger.Debug("rejected link", zap.String("href", href), zap.Error(err))
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		links = append(links, canonical)
	})

	e.logger.Info("found valid links on page", zap.String("url", page.URL), zap.Int("links", len(links)))
	return links, nil
}
