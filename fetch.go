package tjs

import "context"

// Fetch sends one HTTP request and returns its response, following
// redirects per Config.MaxRedirects. The caller owns resp.Body and must
// read it to completion or call resp.Body.Cancel().
func (rt *Runtime) Fetch(ctx context.Context, method, url string, header *Headers, body []byte) (*Response, error) {
	resp, err := rt.client.Fetch(ctx, method, url, httpHeaderFromHeaders(header), body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status: resp.Head.Status,
		Header: headersFromHTTP(resp.Head.Header),
		Body:   resp.Body,
		URL:    resp.URL,
	}, nil
}
