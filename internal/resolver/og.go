/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package resolver

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// OGData holds the page level fields used to fill a card.
type OGData struct {
	Title       string
	Description string
	Image       string
	SiteName    string
	LastPrice   string
}

var preferredImageKeys = []string{
	"mediaUrl", "media_url", "mediaUri", "media_uri",
	"imageUrl", "image_url", "imageUri", "image_uri",
	"animationUrl", "animation_url", "animationUri", "animation_uri",
}

var disallowedNames = map[string]struct{}{
	"viewport":                   {},
	"description":                {},
	"theme-color":                {},
	"keywords":                   {},
	"author":                     {},
	"robots":                     {},
	"generator":                  {},
	"application-name":           {},
	"apple-mobile-web-app-title": {},
	"next-size-adjust":           {},
}

var (
	nameFieldRe        = jsonStringFieldRe("name")
	descriptionFieldRe = jsonStringFieldRe("description")
	imageFieldRes      = make([]*regexp.Regexp, 0, len(preferredImageKeys))
	lastPriceRe        = regexp.MustCompile(`(?i)\\?["']lastPrice\\?["']\s*:\s*\\?["'](\d+)\\?["']`)

	jsonUnescaper = strings.NewReplacer(`\/`, "/", `\"`, `"`, `\n`, "\n", `\r`, "\r", `\t`, "\t", `\\`, `\`)
)

func init() {
	for _, key := range preferredImageKeys {
		imageFieldRes = append(imageFieldRes, jsonStringFieldRe(key))
	}
}

// jsonStringFieldRe matches "field": "value" pairs in inline scripts, including
// the escaped form found in serialized page state. Submatches 1 to 4 hold the
// value for each quoting style.
func jsonStringFieldRe(field string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)\\?["']` + regexp.QuoteMeta(field) + `\\?["']\s*:\s*(?:\\"(.*?)\\"|"(.*?)"|\\'(.*?)\\'|'(.*?)')`)
}

func fieldValue(match []string) string {
	for _, v := range match[1:] {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstJSONField(html string, re *regexp.Regexp, accept func(string) bool) string {
	for _, match := range re.FindAllStringSubmatch(html, -1) {
		raw := fieldValue(match)
		if raw == "" {
			continue
		}
		value := strings.TrimSpace(jsonUnescaper.Replace(raw))
		if value == "" {
			continue
		}
		if accept == nil || accept(value) {
			return value
		}
	}
	return ""
}

func isLikelyAssetName(value string) bool {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return false
	}
	if strings.HasPrefix(normalized, "next.") || strings.HasPrefix(normalized, "twitter:") || strings.HasPrefix(normalized, "og:") {
		return false
	}
	_, disallowed := disallowedNames[normalized]
	return !disallowed
}

// ExtractOG reads Open Graph meta tags and the embedded page state. Values
// found in the page state win over the meta tags.
func ExtractOG(html string) OGData {
	og := OGData{}
	var ogTitle, ogDescription, ogImage string

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
			key, ok := s.Attr("property")
			if !ok {
				key, ok = s.Attr("name")
			}
			content, hasContent := s.Attr("content")
			if !ok || !hasContent {
				return
			}
			switch strings.ToLower(key) {
			case "og:title":
				if ogTitle == "" {
					ogTitle = content
				}
			case "og:description":
				if ogDescription == "" {
					ogDescription = content
				}
			case "og:image":
				if ogImage == "" {
					ogImage = content
				}
			case "og:site_name":
				if og.SiteName == "" {
					og.SiteName = content
				}
			}
		})
	}

	if name := firstJSONField(html, nameFieldRe, isLikelyAssetName); name != "" {
		og.Title = name
	} else {
		og.Title = ogTitle
	}

	if description := firstJSONField(html, descriptionFieldRe, nil); description != "" {
		og.Description = description
	} else {
		og.Description = ogDescription
	}

	for _, re := range imageFieldRes {
		if match := re.FindStringSubmatch(html); match != nil {
			if v := fieldValue(match); v != "" {
				og.Image = strings.ReplaceAll(v, `\/`, "/")
				break
			}
		}
	}
	if og.Image == "" {
		og.Image = ogImage
	}

	if match := lastPriceRe.FindStringSubmatch(html); match != nil {
		og.LastPrice = match[1]
	}

	return og
}
