package scholar

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
	"github.com/JakeFAU/scholar-crawler/internal/extract"
)

const (
	resultSelector = ".gs_r"
	footerLinks    = ".gs_ri > .gs_fl > a"
)

var (
	yearPattern     = regexp.MustCompile(`\s(\d{4})\s-`)
	trailingYear    = regexp.MustCompile(`,\s*(\d{4})\b`)
	citedByPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^Cited by\s+([\d.,]+)`),
		regexp.MustCompile(`(?i)^Citado por\s+([\d.,]+)`),
		regexp.MustCompile(`(?i)^Zitiert von:\s*([\d.,]+)`),
		regexp.MustCompile(`(?i)^Cité\s+([\d.,\s]+)\s+fois`),
	}
	versionsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^All\s+([\d.,]+)\s+versions`),
		regexp.MustCompile(`(?i)^(?:Las|Todas las)\s+([\d.,]+)\s+versiones`),
		regexp.MustCompile(`(?i)^Alle\s+([\d.,]+)\s+Versionen`),
		regexp.MustCompile(`(?i)^(?:Les|Toutes les)\s+([\d.,]+)\s+versions`),
	}
	relatedLabels = []string{"Related articles", "Artículos relacionados", "Ähnliche Artikel", "Autres articles"}
)

// fieldSet holds one ordered extractor chain per record field.
type fieldSet struct {
	title       extract.Chain[string]
	authors     extract.Chain[[]string]
	sourceID    extract.Chain[string]
	description extract.Chain[string]
	year        extract.Chain[string]
	sourceURL   extract.Chain[string]
	citations   extract.Chain[int]
	versions    extract.Chain[int]
	related     extract.Chain[string]
	next        extract.Chain[string]
}

func defaultFields() fieldSet {
	return fieldSet{
		title: extract.Chain[string]{
			extract.Text("gs-2016", ".gs_ri > .gs_rt > a"),
			extract.Text("gs-2021", ".gs_ri .gs_rt a"),
		},
		authors: extract.Chain[[]string]{
			extract.TextList("gs-2016", ".gs_ri > .gs_a > a"),
			plainAuthors("gs-plain", ".gs_ri > .gs_a"),
		},
		sourceID: extract.Chain[string]{
			extract.SelfOrDescendantAttr("gs-2016", resultSelector, "data-cid"),
			extract.SelfOrDescendantAttr("gs-2021", "[data-did]", "data-did"),
		},
		description: extract.Chain[string]{
			extract.Text("gs-2016", ".gs_ri > .gs_rs"),
		},
		year: extract.Chain[string]{
			extract.RegexText("gs-2016", ".gs_ri > .gs_a", yearPattern),
			extract.RegexText("gs-plain", ".gs_ri > .gs_a", trailingYear),
		},
		sourceURL: extract.Chain[string]{
			extract.Attr("gs-2016", ".gs_ri > .gs_rt > a", "href"),
			extract.Attr("gs-2021", ".gs_ri .gs_rt a", "href"),
		},
		citations: extract.Chain[int]{
			extract.CountLink("gs-2016", footerLinks, citedByPatterns...),
			extract.CountLink("gs-2021", ".gs_ri .gs_fl a", citedByPatterns...),
		},
		versions: extract.Chain[int]{
			extract.CountLink("gs-2016", footerLinks, versionsPatterns...),
			extract.CountLink("gs-2021", ".gs_ri .gs_fl a", versionsPatterns...),
		},
		related: extract.Chain[string]{
			extract.LinkHref("gs-2016", footerLinks, relatedLabels...),
			extract.LinkHref("gs-2021", ".gs_ri .gs_fl a", relatedLabels...),
		},
		next: extract.Chain[string]{
			extract.Attr("gs-2016", "#gs_n td[align~=left] > a", "href"),
			nextIconLink("gs-2021"),
		},
	}
}

// ParseRecord maps one result block to a Record. Blocks without a title or
// without authors (profile cards, ads) are not records; the title is checked
// first and nothing else is extracted when it is missing.
func (p *Provider) ParseRecord(fragment string) (crawler.Record, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return crawler.Record{}, false
	}
	sel := doc.Find(resultSelector).First()
	if sel.Length() == 0 {
		sel = doc.Selection
	}

	title, ok := p.fields.title.Value(sel)
	if !ok {
		return crawler.Record{}, false
	}
	authors, ok := p.fields.authors.Value(sel)
	if !ok {
		return crawler.Record{}, false
	}

	record := crawler.Record{Title: title, Authors: authors}
	record.SourceID, _ = p.fields.sourceID.Value(sel)
	record.Description, _ = p.fields.description.Value(sel)
	record.Year, _ = p.fields.year.Value(sel)
	record.SourceURL, _ = p.fields.sourceURL.Value(sel)
	record.Citations, _ = p.fields.citations.Value(sel)
	record.Versions, _ = p.fields.versions.Value(sel)
	if href, ok := p.fields.related.Value(sel); ok {
		if abs, err := crawler.ResolveURL(p.domain, href); err == nil {
			record.RelatedURL = abs
		}
	}
	return record, true
}

// plainAuthors reads unlinked author names from the byline, which lists
// "A Author, B Author - Venue, Year - host".
func plainAuthors(version, selector string) extract.Strategy[[]string] {
	return extract.Strategy[[]string]{Version: version, Extract: func(sel *goquery.Selection) ([]string, bool) {
		line := sel.Find(selector).First().Text()
		line = strings.ReplaceAll(line, "\u00a0", " ")
		head, _, found := strings.Cut(line, " - ")
		if !found {
			return nil, false
		}
		var out []string
		for _, name := range strings.Split(head, ",") {
			name = strings.TrimSpace(strings.Trim(strings.TrimSpace(name), "…"))
			if name != "" {
				out = append(out, name)
			}
		}
		return out, len(out) > 0
	}}
}

func nextIconLink(version string) extract.Strategy[string] {
	return extract.Strategy[string]{Version: version, Extract: func(sel *goquery.Selection) (string, bool) {
		href, ok := sel.Find(".gs_ico_nav_next").Closest("a").Attr("href")
		href = strings.TrimSpace(href)
		return href, ok && href != ""
	}}
}
