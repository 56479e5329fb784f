package extract

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Document is the parsed form of artifact content. Plain text parses to a
// document with only Text set.
type Document struct {
	Text   string  // Visible text, scripts and styles removed
	Images []Image // <img> elements in document order
	Links  []Link  // Resolved http(s) links, deduplicated
}

// Image is an embedded image
type Image struct {
	Src    string
	Alt    string
	HasAlt bool // The alt attribute is present (alt="" marks decorative images)
}

// Link is an outbound link found in content
type Link struct {
	URL  string
	Text string
}

// Parse parses HTML or plain text content. Relative links resolve against
// baseURL when it is set and are dropped otherwise.
func Parse(content string, baseURL string) (*Document, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	var base *url.URL
	if baseURL != "" {
		if base, err = url.Parse(baseURL); err != nil {
			return nil, err
		}
	}

	out := &Document{Text: extractVisibleText(doc)}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				href := strings.TrimSpace(attr(n, "href"))
				if resolved := resolveURL(base, href); resolved != "" {
					out.Links = append(out.Links, Link{URL: resolved, Text: strings.TrimSpace(textOf(n))})
				}
			case "img":
				img := Image{Src: attr(n, "src")}
				for _, a := range n.Attr {
					if a.Key == "alt" {
						img.Alt = strings.TrimSpace(a.Val)
						img.HasAlt = true
					}
				}
				out.Images = append(out.Images, img)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	out.Links = dedupeLinks(out.Links)
	return out, nil
}

// ImagesMissingAlt returns images without an alt attribute
func (d *Document) ImagesMissingAlt() []Image {
	var missing []Image
	for _, img := range d.Images {
		if !img.HasAlt {
			missing = append(missing, img)
		}
	}
	return missing
}

// LinkURLs returns the link targets in order
func (d *Document) LinkURLs() []string {
	urls := make([]string, len(d.Links))
	for i, l := range d.Links {
		urls[i] = l.URL
	}
	return urls
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

// resolveURL resolves a link target, keeping only http/https URLs
func resolveURL(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""

	return resolved.String()
}

// dedupeLinks removes duplicate links, keeping the first occurrence
func dedupeLinks(links []Link) []Link {
	seen := make(map[string]bool)
	var unique []Link

	for _, l := range links {
		if !seen[l.URL] {
			seen[l.URL] = true
			unique = append(unique, l)
		}
	}

	return unique
}
