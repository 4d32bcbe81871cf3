// scraper/link_locator.go
package scraper

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mihara/supplycheck/models"
)

// Regex to find the YYMMDD stamp publishers embed in workbook filenames,
// e.g. "260206iyakuhinkyoukyu.xlsx".
var filenameDateRegex = regexp.MustCompile(`(\d{6})`)

const filenameDateLayout = "060102" // YYMMDD

// Locator discovers the current workbook download URL on a landing page.
// The page is untrusted HTML; nothing is assumed beyond anchors with href
// values. Kept behind this narrow type so the discovery strategy can change
// without touching caching or matching.
type Locator struct {
	client *http.Client
}

// NewLocator returns a Locator whose page fetches are bounded by timeout.
func NewLocator(timeout time.Duration) *Locator {
	return &Locator{client: &http.Client{Timeout: timeout}}
}

// Locate fetches pageURL and returns the newest workbook link found on it,
// along with the date hint from its filename. Candidates are anchors whose
// href contains ".xlsx"; relative hrefs are resolved against the page URL.
// "Newest" means the latest filename date hint, falling back to first
// appearance in page order when no candidate carries a hint.
func (l *Locator) Locate(ctx context.Context, pageURL string) (*models.SourceLink, error) {
	log.Printf("Scraper: Scanning landing page %s for workbook link\n", pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", pageURL, err)
	}

	res, err := l.client.Do(req)
	if err != nil {
		return nil, &models.TransientFetchError{URL: pageURL, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, &models.TransientFetchError{
			URL: pageURL,
			Err: fmt.Errorf("landing page returned status %d", res.StatusCode),
		}
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML from %s: %w", pageURL, err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid landing page URL %s: %w", pageURL, err)
	}

	var best *models.SourceLink
	doc.Find("a").Each(func(i int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !strings.Contains(strings.ToLower(href), ".xlsx") {
			return
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			log.Printf("WARN Scraper: Skipping unparseable href %q on %s: %v\n", href, pageURL, err)
			return
		}
		resolved := base.ResolveReference(ref).String()

		candidate := &models.SourceLink{
			URL:      resolved,
			DateHint: FilenameDate(resolved),
		}
		if best == nil || candidate.DateHint.After(best.DateHint) {
			best = candidate
		}
	})

	if best == nil {
		return nil, &models.LinkNotFoundError{PageURL: pageURL}
	}

	if best.DateHint.IsZero() {
		log.Printf("Scraper: Found workbook link %s (no date hint in filename)\n", best.URL)
	} else {
		log.Printf("Scraper: Found workbook link %s (file date %s)\n",
			best.URL, best.DateHint.Format("2006-01-02"))
	}
	return best, nil
}

// FilenameDate pulls a YYMMDD stamp out of the filename portion of a URL.
// Returns the zero time when no valid stamp is present.
func FilenameDate(rawURL string) time.Time {
	u, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}
	}
	filename := path.Base(u.Path)

	m := filenameDateRegex.FindStringSubmatch(filename)
	if m == nil {
		return time.Time{}
	}
	t, err := time.Parse(filenameDateLayout, m[1])
	if err != nil {
		// Six digits that are not a real calendar date, e.g. a revision number.
		return time.Time{}
	}
	return t
}
