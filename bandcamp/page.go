package bandcamp

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

var pagedataRe = regexp.MustCompile(`id="pagedata"\s+data-blob="([^"]+)"`)

// parseDownloadPage extracts the first digital item from a download page's
// pagedata element. The data-blob attribute holds HTML-entity-encoded JSON.
func parseDownloadPage(html []byte) (*DownloadInfo, error) {
	caps := pagedataRe.FindSubmatch(html)
	if nil == caps {
		return nil, errors.New("could not find pagedata data-blob in download page")
	}

	decoded := decodeHTMLEntities(string(caps[1]))

	item := gjson.Get(decoded, "digital_items.0")
	if !item.Exists() {
		return nil, errors.New("no digital items found in download page")
	}

	var info DownloadInfo
	if err := json.Unmarshal([]byte(item.Raw), &info); nil != err {
		return nil, fmt.Errorf("failed to decode digital item: %v", err)
	}

	return &info, nil
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#x27;", "'",
)

func decodeHTMLEntities(s string) string {
	return entityReplacer.Replace(s)
}
