package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/repository"
	"github.com/user/wiki-archiver/pkg/utils"
)

// maxTitleBytes keeps "<title>-<hash>.html" under common 255-byte name limits.
const maxTitleBytes = 200

var titleReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_",
	`\`, "_", "|", "_", "?", "_", "*", "_",
)

// ArchiveRepoImpl writes each rendered page to <dir>/<sanitized title>.html.
type ArchiveRepoImpl struct {
	dir          string
	disambiguate bool
	logger       *zap.Logger
}

// NewArchiveRepo creates dir if needed. With disambiguate set, filenames carry a
// short hash of the page URL so equal titles do not overwrite each other.
func NewArchiveRepo(dir string, disambiguate bool, logger *zap.Logger) (*ArchiveRepoImpl, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", repository.ErrArchiveWrite, dir, err)
	}
	return &ArchiveRepoImpl{dir: dir, disambiguate: disambiguate, logger: logger}, nil
}

// Archive writes the page HTML verbatim and returns the filename used.
// A page without a usable title is stored under a URL-derived name.
func (r *ArchiveRepoImpl) Archive(page *entity.RenderedPage) (string, error) {
	filename, err := r.Filename(page)
	if err != nil {
		r.logger.Warn("page has no title, using fallback filename",
			zap.String("url", page.URL),
			zap.String("file", filename),
			zap.Error(err),
		)
	}

	path := filepath.Join(r.dir, filename)
	if err := writeFileAtomic(path, []byte(page.HTML), 0o644); err != nil {
		return "", fmt.Errorf("%w: %s: %v", repository.ErrArchiveWrite, path, err)
	}
	return filename, nil
}

// Filename derives the archive name for page. When the title is missing it
// returns the fallback name together with an error wrapping ErrMissingTitle.
func (r *ArchiveRepoImpl) Filename(page *entity.RenderedPage) (string, error) {
	title, err := PageTitle(page.HTML)
	if err != nil {
		return "untitled-" + utils.ShortHash(page.URL, 16) + ".html", err
	}
	name := SanitizeTitle(title)
	if r.disambiguate {
		name += "-" + utils.ShortHash(page.URL, 8)
	}
	return name + ".html", nil
}

// PageTitle returns the trimmed text of the document's first <title>.
func PageTitle(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("%w: %v", repository.ErrMissingTitle, err)
	}
	sel := doc.Find("title").First()
	if sel.Length() == 0 {
		return "", repository.ErrMissingTitle
	}
	title := strings.TrimSpace(sel.Text())
	if title == "" {
		return "", fmt.Errorf("%w: title is blank", repository.ErrMissingTitle)
	}
	return title, nil
}

// SanitizeTitle replaces < > : " / \ | ? * with "_" and bounds the length.
func SanitizeTitle(title string) string {
	name := titleReplacer.Replace(title)
	if len(name) <= maxTitleBytes {
		return name
	}
	cut := maxTitleBytes
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
