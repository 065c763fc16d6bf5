package processor

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"stash/internal/models"
	"stash/internal/urlutil"
)

// Page is what could be read out of one HTML document.
type Page struct {
	Blob models.MetadataBlob
	// SocialTitle is set when the title came from og:title or twitter:title.
	SocialTitle bool
	Product     *Product
}

type Product struct {
	Name        string
	Image       string
	Description string
}

var (
	productTitleSelectors = []string{
		"#productTitle",
		"#title",
		".product-title-word-break",
		"h1.a-spacing-none",
	}
	productImageSelectors = []string{
		"#landingImage",
		"#imgBlkFront",
		"#main-image",
		"#main-image-container img[data-old-hires]",
		"#imageBlock_feature_div img",
	}
	productDescriptionSelectors = []string{
		"#productDescription",
		"#feature-bullets",
		".product-description",
		"#description",
	}
	spaces = regexp.MustCompile(`\s+`)
)

// Extract parses rawHTML fetched from pageURL. Relative image and icon
// references are resolved against pageURL.
func Extract(pageURL string, rawHTML []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	meta := func(keys ...string) string {
		for _, key := range keys {
			var val string
			doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				name, _ := s.Attr("property")
				if name == "" {
					name, _ = s.Attr("name")
				}
				if !strings.EqualFold(strings.TrimSpace(name), key) {
					return true
				}
				val = strings.TrimSpace(s.AttrOr("content", ""))
				return val == ""
			})
			if val != "" {
				return val
			}
		}
		return ""
	}

	page := &Page{}
	b := &page.Blob
	b.Title = meta("og:title", "twitter:title")
	page.SocialTitle = b.Title != ""
	if b.Title == "" {
		b.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	b.Description = meta("og:description", "twitter:description", "description")
	b.Image = meta("og:image", "og:image:url", "og:image:secure_url", "twitter:image", "twitter:image:src")
	b.Author = meta("author", "article:author", "twitter:creator")
	b.Publisher = meta("article:publisher", "publisher")
	b.SiteName = meta("og:site_name", "application-name")
	b.Type = meta("og:type")
	b.URL = meta("og:url")
	b.Lang = strings.TrimSpace(doc.Find("html").First().AttrOr("lang", ""))
	if b.Lang == "" {
		b.Lang = meta("og:locale")
	}

	if b.Image != "" {
		b.Image = urlutil.PrepareURL(b.Image, pageURL)
	}
	if icon := favicon(rawHTML); icon != "" {
		b.Logo = urlutil.PrepareURL(icon, pageURL)
	}
	if b.SiteName == "" {
		b.SiteName = urlutil.SiteName(pageURL)
	}

	page.Product = extractProduct(doc, pageURL)
	return page, nil
}

func extractProduct(doc *goquery.Document, pageURL string) *Product {
	var p Product
	for _, sel := range productTitleSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			p.Name = strings.TrimSpace(s.Text())
			break
		}
	}
	for _, sel := range productImageSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if img := productImage(s); img != "" {
			p.Image = urlutil.PrepareURL(img, pageURL)
			break
		}
	}
	for _, sel := range productDescriptionSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			p.Description = strings.TrimSpace(spaces.ReplaceAllString(s.Text(), " "))
			break
		}
	}
	if p.Name == "" && p.Image == "" && p.Description == "" {
		return nil
	}
	return &p
}

func productImage(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-old-hires", "data-a-dynamic-image"} {
		val, ok := s.Attr(attr)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		if attr != "data-a-dynamic-image" {
			return strings.TrimSpace(val)
		}
		var images map[string]json.RawMessage
		if err := json.Unmarshal([]byte(val), &images); err != nil {
			continue
		}
		for u := range images {
			return u
		}
	}
	return ""
}

// ApplyProduct overlays product fields onto the page blob. Product data wins.
func (p *Page) ApplyProduct(prod *Product) {
	if prod == nil {
		return
	}
	if prod.Name != "" {
		p.Blob.Title = prod.Name
	}
	if prod.Image != "" {
		p.Blob.Image = prod.Image
	}
	if prod.Description != "" {
		p.Blob.Description = prod.Description
	}
}

func favicon(rawHTML []byte) string {
	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && strings.ToLower(n.Data) == "link" {
			rel := attrValue(n, "rel")
			if strings.Contains(rel, "icon") {
				for _, a := range n.Attr {
					if a.Key == "href" && strings.TrimSpace(a.Val) != "" {
						found = strings.TrimSpace(a.Val)
						return
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.ToLower(strings.TrimSpace(a.Val))
		}
	}
	return ""
}
