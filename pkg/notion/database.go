package notion

import (
	"context"
	"strconv"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// pageSize is the Notion maximum.
const pageSize = 100

// QueryAll fetches all pages from a Notion database, following cursors.
// Rate limiting is enforced by the Client.
func QueryAll(ctx context.Context, c Client, dbID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
	for {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		req = &notionapi.DatabaseQueryRequest{PageSize: pageSize, StartCursor: resp.NextCursor}
	}
}

// Rows flattens every page of a database into property-name → text maps.
// The page id is exposed as "notion_page_id".
func Rows(ctx context.Context, c Client, dbID string) ([]map[string]string, error) {
	pages, err := QueryAll(ctx, c, dbID)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, PageToRow(p))
	}
	return rows, nil
}

// PageToRow renders each supported property of a page as plain text.
// Unsupported property kinds (relations, rollups, files) are skipped.
func PageToRow(p notionapi.Page) map[string]string {
	row := make(map[string]string, len(p.Properties)+1)
	row["notion_page_id"] = string(p.ID)
	for name, prop := range p.Properties {
		if v, ok := propertyText(prop); ok {
			row[name] = v
		}
	}
	return row
}

func propertyText(prop notionapi.Property) (string, bool) {
	switch v := prop.(type) {
	case *notionapi.TitleProperty:
		return richText(v.Title), true
	case *notionapi.RichTextProperty:
		return richText(v.RichText), true
	case *notionapi.NumberProperty:
		return strconv.FormatFloat(v.Number, 'f', -1, 64), true
	case *notionapi.PhoneNumberProperty:
		return v.PhoneNumber, true
	case *notionapi.EmailProperty:
		return v.Email, true
	case *notionapi.URLProperty:
		return v.URL, true
	case *notionapi.SelectProperty:
		return v.Select.Name, true
	case *notionapi.MultiSelectProperty:
		names := make([]string, 0, len(v.MultiSelect))
		for _, o := range v.MultiSelect {
			names = append(names, o.Name)
		}
		return strings.Join(names, ";"), true
	case *notionapi.CheckboxProperty:
		return strconv.FormatBool(v.Checkbox), true
	}
	return "", false
}

func richText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return strings.TrimSpace(b.String())
}
