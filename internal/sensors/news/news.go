// Package news implements a sample source that scrapes headlines from a
// small set of news homepages with colly/goquery and normalizes the
// surrounding article snippet through html-to-markdown, grounded on
// original_source/src/sensors/news_sensor.py's headline-collection loop
// (re-expressed as an HTML scrape rather than an RSS parse, per SPEC_FULL
// §3's domain-stack wiring for gocolly/colly and html-to-markdown).
package news

import (
	"context"
	"fmt"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/gocolly/colly/v2"

	"github.com/amois3/matrixwatcher/internal/sensor"
)

// Feed is one scraped homepage: a URL and the CSS selector its headline
// links live under.
type Feed struct {
	Name     string
	URL      string
	Selector string
}

var defaultFeeds = []Feed{
	{Name: "bbc", URL: "https://www.bbc.com/news", Selector: "h2 a, h3 a"},
	{Name: "guardian", URL: "https://www.theguardian.com/world", Selector: "h3 a"},
}

type headlineSighting struct {
	text string
	seen time.Time
}

// Source scrapes defaultFeeds (or Feeds if configured) and tracks a
// rolling 1h window of distinct headlines seen, so headline_count_1h
// reflects recent headline churn rather than a single page's count.
type Source struct {
	cfg       sensor.Config
	feeds     []Feed
	conv      *converter.Converter
	sightings []headlineSighting
}

func New(cfg sensor.Config, feeds []Feed) *Source {
	if len(feeds) == 0 {
		feeds = defaultFeeds
	}
	return &Source{
		cfg:   cfg,
		feeds: feeds,
		conv:  converter.NewConverter(converter.WithPlugins(base.NewBasePlugin(), commonmark.NewCommonmarkPlugin())),
	}
}

func (s *Source) Name() string          { return "news" }
func (s *Source) Config() sensor.Config { return s.cfg }

func (s *Source) Schema() map[string]sensor.FieldType {
	return map[string]sensor.FieldType{
		"headline_count":    sensor.FieldNumber,
		"headline_count_1h": sensor.FieldNumber,
	}
}

func (s *Source) Collect(ctx context.Context) (sensor.Reading, error) {
	var headlines []string
	var scrapeErr error

	c := colly.NewCollector()
	c.SetRequestTimeout(s.cfg.Timeout)
	c.OnError(func(r *colly.Response, err error) { scrapeErr = err })

	for _, feed := range s.feeds {
		feed := feed
		c.OnHTML(feed.Selector, func(e *colly.HTMLElement) {
			html, err := e.DOM.Html()
			if err != nil {
				return
			}
			md, err := s.conv.ConvertString(html)
			if err != nil {
				return
			}
			if text := cleanHeadline(md); text != "" {
				headlines = append(headlines, text)
			}
		})
	}

	for _, feed := range s.feeds {
		if err := c.Visit(feed.URL); err != nil {
			scrapeErr = err
		}
	}
	c.Wait()

	if len(headlines) == 0 && scrapeErr != nil {
		return sensor.Reading{}, &sensor.TransientError{Err: fmt.Errorf("news: scrape failed: %w", scrapeErr)}
	}

	now := time.Now()
	s.sightings = pruneOlderThan(s.sightings, now.Add(-time.Hour))
	known := make(map[string]bool, len(s.sightings))
	for _, sg := range s.sightings {
		known[sg.text] = true
	}
	for _, h := range headlines {
		if known[h] {
			continue
		}
		known[h] = true
		s.sightings = append(s.sightings, headlineSighting{text: h, seen: now})
	}

	return sensor.Reading{
		Timestamp: float64(now.UnixNano()) / 1e9,
		Source:    s.Name(),
		Data: map[string]any{
			"headline_count":    len(headlines),
			"headline_count_1h": len(s.sightings),
		},
	}, nil
}

func pruneOlderThan(sightings []headlineSighting, cutoff time.Time) []headlineSighting {
	out := sightings[:0]
	for _, s := range sightings {
		if s.seen.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func cleanHeadline(markdown string) string {
	start := 0
	end := len(markdown)
	for start < end && (markdown[start] == ' ' || markdown[start] == '\n' || markdown[start] == '\t') {
		start++
	}
	for end > start && (markdown[end-1] == ' ' || markdown[end-1] == '\n' || markdown[end-1] == '\t') {
		end--
	}
	return markdown[start:end]
}
