package extract

import (
	"regexp"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const fragment = `<div class="gs_r" data-cid="cid-1">
  <div class="gs_ri">
    <h3 class="gs_rt"><a href="https://example.org/paper">A Paper</a></h3>
    <div class="gs_a"><a href="/citations?user=1">A Turing</a>, <a href="/citations?user=2">B Russell</a> - Mind, 1950 - jstor.org</div>
    <div class="gs_fl">
      <a href="/scholar?cites=1">Cited by 1,234</a>
      <a href="/scholar?q=related:1">Related articles</a>
      <a href="/scholar?cluster=1">All 12 versions</a>
    </div>
  </div>
</div>`

func parse(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Find(".gs_r").First()
}

func TestChain_FirstHitWins(t *testing.T) {
	t.Parallel()

	sel := parse(t, fragment)
	chain := Chain[string]{
		Text("v2", ".gs_title"),
		Text("v1", ".gs_ri > .gs_rt > a"),
		Text("v0", "h3"),
	}

	got, version, ok := chain.Run(sel)
	require.True(t, ok)
	require.Equal(t, "A Paper", got)
	require.Equal(t, "v1", version)
}

func TestChain_MissReturnsZero(t *testing.T) {
	t.Parallel()

	got, ok := Chain[int]{CountLink("v1", ".gs_fl > a", regexp.MustCompile(`Zitiert von: (\d+)`))}.Value(parse(t, fragment))
	require.False(t, ok)
	require.Zero(t, got)
}

func TestStrategies(t *testing.T) {
	t.Parallel()

	sel := parse(t, fragment)

	authors, ok := TextList("v1", ".gs_ri > .gs_a > a").Extract(sel)
	require.True(t, ok)
	require.Equal(t, []string{"A Turing", "B Russell"}, authors)

	href, ok := Attr("v1", ".gs_ri > .gs_rt > a", "href").Extract(sel)
	require.True(t, ok)
	require.Equal(t, "https://example.org/paper", href)

	cid, ok := SelfOrDescendantAttr("v1", ".gs_r", "data-cid").Extract(sel)
	require.True(t, ok)
	require.Equal(t, "cid-1", cid)

	year, ok := RegexText("v1", ".gs_ri > .gs_a", regexp.MustCompile(`\s(\d{4})\s-`)).Extract(sel)
	require.True(t, ok)
	require.Equal(t, "1950", year)

	cited, ok := CountLink("v1", ".gs_fl > a", regexp.MustCompile(`(?i)^Cited by\s+([\d,.]+)`)).Extract(sel)
	require.True(t, ok)
	require.Equal(t, 1234, cited)

	related, ok := LinkHref("v1", ".gs_fl > a", "Related articles").Extract(sel)
	require.True(t, ok)
	require.Equal(t, "/scholar?q=related:1", related)
}
