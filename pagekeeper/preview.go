package pagekeeper

import (
	"context"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Preview formats.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// previewer renders fetched pages for locator authoring: sanitized HTML
// keeps ids and classes so CSS locators can be read off it; markdown is for
// skimming values.
type previewer struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

func newPreviewer() *previewer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("id", "class").Globally()
	policy.AllowAttrs("data-price", "data-value", "itemprop", "content").Globally()
	return &previewer{
		policy: policy,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

func (p *previewer) render(html, sourceURL, format string) (string, error) {
	switch format {
	case "", FormatHTML:
		return p.policy.Sanitize(html), nil
	case FormatMarkdown:
		out, err := p.md.ConvertString(html, converter.WithDomain(sourceURL))
		if err != nil {
			return "", fmt.Errorf("pagekeeper: markdown: %w", err)
		}
		return strings.TrimSpace(out), nil
	default:
		return "", fmt.Errorf("%w: format must be %q or %q", ErrInvalid, FormatHTML, FormatMarkdown)
	}
}

// Preview fetches url through the robots-gated fetcher and returns it as
// sanitized HTML or markdown. Nothing is persisted.
func (k *Keeper) Preview(ctx context.Context, url, format string) (string, error) {
	if format != "" && format != FormatHTML && format != FormatMarkdown {
		return "", fmt.Errorf("%w: format must be %q or %q", ErrInvalid, FormatHTML, FormatMarkdown)
	}
	f, err := k.newFetcher()
	if err != nil {
		return "", err
	}
	if err := f.Start(ctx); err != nil {
		return "", err
	}
	defer f.Stop()

	html, err := f.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return k.preview.render(html, url, format)
}
