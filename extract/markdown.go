package extract

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
)

// describer turns a scraped description fragment into safe markdown.
// Fragments are sanitised first so scripts, styles and event handlers
// never reach the converter.
type describer struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

func newDescriber() *describer {
	return &describer{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// markdown converts fragment to markdown. pageURL resolves relative links.
// On conversion failure the sanitised text is returned.
func (d *describer) markdown(fragment, pageURL string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	clean := d.policy.Sanitize(fragment)
	var md string
	var err error
	if pageURL != "" {
		md, err = d.conv.ConvertString(clean, converter.WithDomain(pageURL))
	} else {
		md, err = d.conv.ConvertString(clean)
	}
	if err != nil {
		return CleanText(bluemonday.StrictPolicy().Sanitize(fragment))
	}
	return strings.TrimSpace(md)
}
