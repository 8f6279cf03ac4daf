package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/pkg/google"
)

const placesPageSize = 20

// Places fetches from the Google Places text search.
type Places struct {
	client   google.Client
	language string
	region   string
}

// NewPlaces creates a places fetcher.
func NewPlaces(c google.Client, language, region string) *Places {
	return &Places{client: c, language: language, region: region}
}

// Kind implements Fetcher.
func (p *Places) Kind() model.SourceKind { return model.SourcePlaces }

// Fetch implements Fetcher. Permanently closed places are left out.
func (p *Places) Fetch(ctx context.Context, query string, sub model.SubScope, cursor *Cursor) ([]model.RawCandidate, *Cursor, error) {
	req := google.TextSearchRequest{
		TextQuery:    SearchText(query, sub),
		LanguageCode: p.language,
		RegionCode:   p.region,
		PageSize:     placesPageSize,
	}
	if cursor != nil {
		req.PageToken = cursor.PageToken
	}

	resp, err := p.client.TextSearch(ctx, req)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "source: places search %q", req.TextQuery)
	}

	out := make([]model.RawCandidate, 0, len(resp.Places))
	for _, pl := range resp.Places {
		if pl.BusinessStatus == "CLOSED_PERMANENTLY" {
			continue
		}
		out = append(out, model.RawCandidate{Source: model.SourcePlaces, Payload: placePayload(pl)})
	}

	var next *Cursor
	if resp.NextPageToken != "" {
		next = &Cursor{PageToken: resp.NextPageToken}
	}
	return out, next, nil
}

func placePayload(pl google.Place) map[string]any {
	p := map[string]any{
		"id":                  pl.ID,
		"displayName":         pl.DisplayName.Text,
		"formattedAddress":    pl.FormattedAddress,
		"locality":            pl.Component("locality"),
		"postalCode":          pl.Component("postal_code"),
		"nationalPhoneNumber": pl.NationalPhoneNumber,
		"websiteUri":          pl.WebsiteURI,
	}
	if pl.NationalPhoneNumber == "" && pl.InternationalPhoneNumber != "" {
		p["nationalPhoneNumber"] = pl.InternationalPhoneNumber
	}
	if pl.Location != nil {
		p["location"] = map[string]any{
			"latitude":  pl.Location.Latitude,
			"longitude": pl.Location.Longitude,
		}
	}
	if len(pl.Types) > 0 {
		p["types"] = append([]string(nil), pl.Types...)
	}
	return p
}
