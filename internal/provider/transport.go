package provider

import (
	"context"
	"net/http"
)

type statusKey struct{}

// withStatusRecorder lets the transport report the HTTP status of a failed
// vendor response back to the adapter, since the SDK errors do not expose it
// uniformly.
func withStatusRecorder(ctx context.Context) (context.Context, *int) {
	status := new(int)
	return context.WithValue(ctx, statusKey{}, status), status
}

type vendorTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *vendorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range t.headers {
			if v != "" {
				req.Header.Set(k, v)
			}
		}
	}
	resp, err := t.base.RoundTrip(req)
	if resp != nil && resp.StatusCode >= http.StatusMultipleChoices {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}

// newHTTPClient returns a client that adds headers to every request and
// records failing statuses. Deadlines come from the request context.
func newHTTPClient(base http.RoundTripper, headers map[string]string) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{Transport: &vendorTransport{base: base, headers: headers}}
}
