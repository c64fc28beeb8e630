package middleware

import (
	"context"
	"strings"
)

// ContentFilterMiddleware is spec.md §4.6's ContentFilterMiddleware: the
// spec names it only by example ("strip a known preamble"), so this keeps
// exactly that scope — a configurable list of preamble strings stripped
// from the front of a response, nothing more elaborate. Runs early (after
// logging, before repair/detection) so downstream stages never see text
// the filter was meant to remove.
type ContentFilterMiddleware struct {
	preambles []string
}

// NewContentFilterMiddleware builds a filter that strips any of preambles
// found at the very start of a response's content.
func NewContentFilterMiddleware(preambles []string) *ContentFilterMiddleware {
	return &ContentFilterMiddleware{preambles: preambles}
}

func (m *ContentFilterMiddleware) Priority() int { return 90 }

func (m *ContentFilterMiddleware) Process(_ context.Context, resp ProcessedResponse, _ RequestContext) (ProcessedResponse, error) {
	for _, preamble := range m.preambles {
		if preamble == "" {
			continue
		}
		if strings.HasPrefix(resp.Content, preamble) {
			resp.Content = strings.TrimPrefix(resp.Content, preamble)
			break
		}
	}
	return resp, nil
}
