package source

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

// YouTubeID extracts a video id from the common YouTube URL shapes.
func YouTubeID(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live") {
			id = parts[1]
		}
	}
	if !videoIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// ThumbnailFor builds a platform thumbnail URL for links with a recognized
// video id.
func ThumbnailFor(link string) string {
	id := YouTubeID(link)
	if id == "" {
		return ""
	}
	return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
}

// feedMedia walks the fallback chain: media extensions, item image,
// image enclosures, then a thumbnail derived from the link.
func feedMedia(item *gofeed.Item) string {
	if u := mediaExtension(item.Extensions); u != "" {
		return u
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
			return enc.URL
		}
	}
	return ThumbnailFor(item.Link)
}

func mediaExtension(extensions ext.Extensions) string {
	media, ok := extensions["media"]
	if !ok {
		return ""
	}
	if u := mediaFrom(media); u != "" {
		return u
	}
	for _, group := range media["group"] {
		if u := mediaFrom(group.Children); u != "" {
			return u
		}
	}
	return ""
}

func mediaFrom(elems map[string][]ext.Extension) string {
	for _, thumb := range elems["thumbnail"] {
		if u := thumb.Attrs["url"]; u != "" {
			return u
		}
	}
	for _, content := range elems["content"] {
		u := content.Attrs["url"]
		if u == "" {
			continue
		}
		if content.Attrs["medium"] == "image" || strings.HasPrefix(content.Attrs["type"], "image/") {
			return u
		}
	}
	return ""
}
